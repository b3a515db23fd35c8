// Package memory implements the EVM memory model used by the destackifier
// (C5): a dense, per-byte list of cells for constant-offset writes and a
// sparse side-map for symbolic-offset writes.
package memory

import "fmt"

// ConstError is a sentinel error usable in const declarations.
type ConstError string

func (e ConstError) Error() string { return string(e) }

// ErrInconsistentLayout is returned by MLoadConst when it is asked for a
// negative offset or length. The destackifier must abandon the current path.
const ErrInconsistentLayout = ConstError("memory: inconsistent, non-coalescable layout")

// Source is the value a memory byte was written from. tac.Variable
// implements this so memory never needs to import the tac package.
type Source interface {
	SourceID() string
	IsZero() bool
}

// zeroSource pads uninitialized memory; EVM memory reads as zero before
// any write.
type zeroSource struct{}

func (zeroSource) SourceID() string { return "<zero>" }
func (zeroSource) IsZero() bool     { return true }

// ZeroSource is the Source used for never-written memory bytes.
var ZeroSource Source = zeroSource{}

// cell is a single tracked byte: which Source wrote it and at what
// intra-source offset.
type cell struct {
	source       Source
	sourceOffset int
}

// Cell is a coalesced run of bytes sharing one Source, returned by MLoad.
type Cell struct {
	Offset, Length int
	Source         Source
	SourceOffset   int // intra-source offset where this run starts
}

// IsRawRootValue reports whether this cell is the entire 32-byte value of
// its source written in one piece — the case where destackification
// should treat it as "the Variable itself" rather than a slice of it.
func (c Cell) IsRawRootValue() bool {
	return c.SourceOffset == 0 && c.Length == 32
}

// Memory is the per-path memory model.
type Memory struct {
	dense  []cell // dense[i] is the byte at offset i
	sparse map[string]map[int]Cell
}

// New returns an empty memory model.
func New() *Memory {
	return &Memory{sparse: map[string]map[int]Cell{}}
}

// MStoreConst writes value at byte offset [offset, offset+length) in the
// dense list, padding with zero bytes as needed.
func (m *Memory) MStoreConst(offset, length int, value Source) {
	m.ensureDenseLen(offset + length)
	for i := 0; i < length; i++ {
		m.dense[offset+i] = cell{source: value, sourceOffset: i}
	}
}

// MStoreSymbolic records a write at a non-constant offset in the sparse
// side-map, keyed by a caller-supplied stable identifier for that offset
// expression.
func (m *Memory) MStoreSymbolic(offsetKey string, length int, value Source) {
	if m.sparse[offsetKey] == nil {
		m.sparse[offsetKey] = map[int]Cell{}
	}
	m.sparse[offsetKey][length] = Cell{Offset: -1, Length: length, Source: value, SourceOffset: 0}
}

// ensureDenseLen extends the dense list with zero cells up to length n.
func (m *Memory) ensureDenseLen(n int) {
	for len(m.dense) < n {
		m.dense = append(m.dense, cell{source: ZeroSource, sourceOffset: len(m.dense)})
	}
}

// MLoadConst returns the coalesced cell list spanning [offset, offset+length)
// per spec.md §4.4: consecutive dense bytes whose source matches and whose
// intra-source offsets are contiguous (or whose source is zero) are merged
// into a single Cell.
func (m *Memory) MLoadConst(offset, length int) ([]Cell, error) {
	if offset < 0 || length < 0 {
		return nil, ErrInconsistentLayout
	}
	m.ensureDenseLen(offset + length)

	var out []Cell
	i := 0
	for i < length {
		start := offset + i
		c := m.dense[start]
		runLen := 1
		for start+runLen < offset+length {
			next := m.dense[start+runLen]
			sameZero := c.source.IsZero() && next.source.IsZero()
			contiguous := next.source.SourceID() == c.source.SourceID() && next.sourceOffset == c.sourceOffset+runLen
			if !sameZero && !contiguous {
				break
			}
			runLen++
		}
		out = append(out, Cell{Offset: start, Length: runLen, Source: c.source, SourceOffset: c.sourceOffset})
		i += runLen
	}
	return out, nil
}

// MLoadSymbolic looks up a previously recorded symbolic-offset write. ok is
// false when no matching write is known, in which case the caller must
// treat the load as unresolved.
func (m *Memory) MLoadSymbolic(offsetKey string, length int) (Cell, bool) {
	byLen, ok := m.sparse[offsetKey]
	if !ok {
		return Cell{}, false
	}
	c, ok := byLen[length]
	return c, ok
}

func (c Cell) String() string {
	return fmt.Sprintf("Cell{off=%d,len=%d,src=%s@%d}", c.Offset, c.Length, c.Source.SourceID(), c.SourceOffset)
}
