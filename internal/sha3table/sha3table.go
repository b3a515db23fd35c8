// Package sha3table loads the optional SHA3 constant-collision
// substitution table spec.md §6 describes: a JSON file mapping a known
// keccak256 digest (hex) back to the (key, index) pair whose hashing
// produced it, recovered offline by whatever means the caller trusts
// (brute force over likely keys, a rainbow table, a prior run's own
// output). It implements internal/optree's narrow SHA3Lookup interface.
package sha3table

import (
	"encoding/json"
	"os"
)

// ConstError is a sentinel error usable in const declarations.
type ConstError string

func (e ConstError) Error() string { return string(e) }

// ErrMalformedTable is returned when the table file exists but isn't
// valid JSON in the expected shape — spec.md §6 lists this among the
// errors fatal to a run.
const ErrMalformedTable = ConstError("sha3table: malformed sha3_mappings.json")

// Entry is one recovered (key, index) preimage, matching the
// {"key": ..., "index": ...} shape spec.md §6 specifies per hash.
type Entry struct {
	Key   string `json:"key"`
	Index string `json:"index"`
}

// Table is a loaded hex-digest → Entry map.
type Table map[string]Entry

// Load reads and parses a sha3_mappings.json file. A missing file is not
// an error — the table is optional and SHA3 substitution simply never
// fires — but a present, unparseable file is fatal per spec.md §6.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Table{}, nil
		}
		return nil, err
	}
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, ErrMalformedTable
	}
	return t, nil
}

// Lookup implements optree.SHA3Lookup.
func (t Table) Lookup(hashHex string) (key string, index string, ok bool) {
	e, ok := t[hashHex]
	if !ok {
		return "", "", false
	}
	return e.Key, e.Index, true
}
