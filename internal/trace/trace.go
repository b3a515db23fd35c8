// Package trace implements the transaction trace ingester (C12): it turns
// a debug_traceTransaction response into the same Operation stream the
// static disassembler (C2) produces, restricted to the frame the target
// contract itself executed in.
package trace

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/semunits/disco/internal/disasm"
	"github.com/semunits/disco/internal/opcodes"
)

// ConstError is a sentinel-error-as-string-constant, matching the pattern
// used across internal/symstack, internal/memory, internal/tac.
type ConstError string

func (e ConstError) Error() string { return string(e) }

// ErrMalformedPC is returned when a step record's pc field isn't a parsable
// hex integer (with or without a 0x prefix).
const ErrMalformedPC = ConstError("trace: malformed pc in step record")

// StepRecord is one element of a debug_traceTransaction response's
// structLogs array, restricted to the three fields spec.md §6 names.
type StepRecord struct {
	PC     string   `json:"pc"`
	Op     string   `json:"op"`
	Values []string `json:"values"`
}

// traceResult mirrors the shape of a default-tracer debug_traceTransaction
// response enough to pull out the step log.
type traceResult struct {
	StructLogs []StepRecord `json:"structLogs"`
}

// RPCClient is the narrow Web3 RPC boundary this package needs: exactly
// the method set of *github.com/ethereum/go-ethereum/rpc.Client's
// CallContext, so a real rpc.Client satisfies it with no adapter.
type RPCClient interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Fetch calls debug_traceTransaction for txHash and returns its step log.
func Fetch(ctx context.Context, client RPCClient, txHash string) ([]StepRecord, error) {
	var result traceResult
	err := client.CallContext(ctx, &result, "debug_traceTransaction", txHash,
		map[string]interface{}{"disableStorage": true, "disableMemory": true, "disableStack": false})
	if err != nil {
		return nil, err
	}
	return result.StructLogs, nil
}

var depthIncrementOps = map[opcodes.OpCode]bool{
	opcodes.CALL:         true,
	opcodes.CALLCODE:     true,
	opcodes.DELEGATECALL: true,
	opcodes.STATICCALL:   true,
	opcodes.CREATE:       true,
	opcodes.CREATE2:      true,
}

var depthDecrementOps = map[opcodes.OpCode]bool{
	opcodes.RETURN:       true,
	opcodes.STOP:         true,
	opcodes.REVERT:       true,
	opcodes.INVALID:      true,
	opcodes.SELFDESTRUCT: true,
}

// ToOperations implements spec.md §6's depth-1 pre-filter: a virtual depth
// starts at 1, increments the step after a call/create op is witnessed,
// decrements the step after a halting op is witnessed, and only steps
// seen while depth==1 are kept.
func ToOperations(steps []StepRecord) ([]disasm.Operation, error) {
	depth := 1
	ops := make([]disasm.Operation, 0, len(steps))

	for _, s := range steps {
		op, ok := opcodes.ByMnemonic(strings.ToUpper(s.Op))
		if !ok {
			op = opcodes.MISSING
		}

		if depth == 1 {
			pc, err := parseHexPC(s.PC)
			if err != nil {
				return nil, err
			}
			values := make([][]byte, len(s.Values))
			for i, v := range s.Values {
				values[i] = parseHexBytes(v)
			}
			ops = append(ops, disasm.Operation{PC: pc, Op: op, ConcreteValues: values})
		}

		if depthIncrementOps[op] {
			depth++
		} else if depthDecrementOps[op] {
			depth--
		}
	}
	return ops, nil
}

func parseHexPC(s string) (int, error) {
	s = strings.TrimSpace(s)
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseInt(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPC, s)
	}
	return int(v), nil
}

func parseHexBytes(s string) []byte {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(trimmed)%2 != 0 {
		trimmed = "0" + trimmed
	}
	out := make([]byte, len(trimmed)/2)
	for i := range out {
		v, err := strconv.ParseUint(trimmed[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil
		}
		out[i] = byte(v)
	}
	return out
}
