// Package disasm turns a raw bytecode byte stream into an ordered operation
// list, stripping compiler metadata trailers first (spec component C2).
package disasm

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/sha3"

	"github.com/semunits/disco/internal/opcodes"
)

// codeCacheCapacity mirrors the teacher's conversion cache sizing: bounded
// to a fixed entry count rather than a byte budget, since disassembly
// output is a small multiple of the input code size.
const codeCacheCapacity = 4096

var disassemblyCache *lru.Cache[[32]byte, []Operation]

func init() {
	c, err := lru.New[[32]byte, []Operation](codeCacheCapacity)
	if err != nil {
		panic(fmt.Errorf("disasm: failed to create disassembly cache: %v", err))
	}
	disassemblyCache = c
}

// Operation is a single decoded instruction: (pc, opcode, immediate?,
// concrete_values?). ConcreteValues is only populated when the operation
// originates from a transaction trace (C12); the static disassembler never
// sets it.
type Operation struct {
	PC             int
	Op             opcodes.OpCode
	Immediate      []byte   // PUSH immediate, nil otherwise
	ConcreteValues [][]byte // values observed on a concrete trace, nil for static disassembly
}

// IsMissing reports whether this operation covers an unrecognized opcode
// byte (the disassembler still advances one byte at a time over these).
func (o Operation) IsMissing() bool {
	return o.Op == opcodes.MISSING
}

// Disassemble strips the compiler metadata trailer (if any is recognized)
// and decodes code into an ordered operation list. PUSH_n operations consume
// the next n bytes as their immediate (zero-padded if the code runs out);
// unrecognized bytes become MISSING operations so downstream phases can
// still make progress. Results are cached by the code's SHA3-256 digest,
// mirroring the teacher's Convert code cache (interpreter/lfvm/converter.go)
// — useful when the same bytecode (a proxy clone, a re-analyzed address)
// is disassembled more than once in a run.
func Disassemble(code []byte) []Operation {
	key := sha3.Sum256(code)
	if cached, ok := disassemblyCache.Get(key); ok {
		return cached
	}

	ops := disassemble(code)
	disassemblyCache.Add(key, ops)
	return ops
}

func disassemble(code []byte) []Operation {
	trimmed := stripTrailerBytes(code)
	ops := make([]Operation, 0, len(trimmed))

	for pc := 0; pc < len(trimmed); {
		b := trimmed[pc]
		op := opcodes.OpCode(b)
		d, ok := opcodes.Lookup(b)
		if !ok {
			ops = append(ops, Operation{PC: pc, Op: opcodes.MISSING})
			pc++
			continue
		}
		if d.IsPush {
			n := d.PushWidth
			imm := make([]byte, n)
			end := pc + 1 + n
			if end > len(trimmed) {
				copy(imm, trimmed[pc+1:])
			} else {
				copy(imm, trimmed[pc+1:end])
			}
			ops = append(ops, Operation{PC: pc, Op: op, Immediate: imm})
			pc += 1 + n
			continue
		}
		ops = append(ops, Operation{PC: pc, Op: op})
		pc++
	}
	return ops
}

func stripTrailerBytes(code []byte) []byte {
	hx := bytesToHex(code)
	stripped := stripMetadataTrailer(hx)
	if len(stripped) == len(hx) {
		return code
	}
	// stripped is always an even-length prefix of hx since the patterns are
	// byte-aligned (two hex digits per byte).
	return code[:len(stripped)/2]
}

const hexDigits = "0123456789abcdef"

func bytesToHex(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

// Language distinguishes Solidity and Vyper, affecting SHA3 key ordering
// (§4.6) and several post-processing rules (§4.11).
type Language int

const (
	LanguageSolidity Language = iota
	LanguageVyper
)

func (l Language) String() string {
	if l == LanguageVyper {
		return "Vyper"
	}
	return "Solidity"
}

// DetectLanguage implements spec.md §6: if any four-op window is
// PUSH1 0x00; CALLDATALOAD; PUSH_n; MSTORE, the contract is labeled Vyper.
func DetectLanguage(ops []Operation) Language {
	for i := 0; i+3 < len(ops); i++ {
		a, b, c, d := ops[i], ops[i+1], ops[i+2], ops[i+3]
		if a.Op == opcodes.PUSH1 && len(a.Immediate) == 1 && a.Immediate[0] == 0x00 &&
			b.Op == opcodes.CALLDATALOAD &&
			isPush(c.Op) &&
			d.Op == opcodes.MSTORE {
			return LanguageVyper
		}
	}
	return LanguageSolidity
}

func isPush(op opcodes.OpCode) bool {
	return op >= opcodes.PUSH1 && op <= opcodes.PUSH32
}
