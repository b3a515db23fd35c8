package contractio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/semunits/disco/internal/trace"
)

func TestLoadBytecode_StripsPrefixAndNewline(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0xabc.hex"), []byte("0x6001600201\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	code, err := LoadBytecode(dir, "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x60, 0x01, 0x60, 0x02, 0x01}
	if len(code) != len(want) {
		t.Fatalf("expected %d bytes, got %d (%x)", len(want), len(code), code)
	}
	for i := range want {
		if code[i] != want[i] {
			t.Fatalf("byte %d: expected %x, got %x", i, want[i], code[i])
		}
	}
}

func TestLoadBytecode_OddLength_RightPadded(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0xabc.hex"), []byte("600"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	code, err := LoadBytecode(dir, "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != 2 || code[0] != 0x60 || code[1] != 0x00 {
		t.Fatalf("expected [0x60, 0x00], got %x", code)
	}
}

func TestLoadBytecode_MissingFile_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadBytecode(dir, "0xnotthere"); err == nil {
		t.Fatal("expected an error for a missing bytecode file")
	}
}

func TestSaveAndLoadTrace_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	steps := []trace.StepRecord{
		{PC: "0x0", Op: "PUSH1", Values: []string{"0x1"}},
		{PC: "0x2", Op: "SSTORE", Values: nil},
	}
	if err := SaveTrace(dir, "0xtx", steps); err != nil {
		t.Fatalf("SaveTrace: %v", err)
	}
	got, err := LoadTrace(dir, "0xtx")
	if err != nil {
		t.Fatalf("LoadTrace: %v", err)
	}
	if len(got) != 2 || got[0].Op != "PUSH1" || got[1].Op != "SSTORE" {
		t.Fatalf("unexpected round-tripped steps: %+v", got)
	}
}

func TestLoadTrace_MalformedJSON_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(TracePath(dir, "0xtx"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := LoadTrace(dir, "0xtx"); err != ErrMalformedTrace {
		t.Fatalf("expected ErrMalformedTrace, got %v", err)
	}
}
