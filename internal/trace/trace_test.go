package trace

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/semunits/disco/internal/opcodes"
)

func TestToOperations_KeepsOnlyDepth1Steps(t *testing.T) {
	steps := []StepRecord{
		{PC: "0x0", Op: "PUSH1", Values: []string{"0x60"}},
		{PC: "0x2", Op: "CALL", Values: []string{"0x1", "0x2"}},
		{PC: "0x0", Op: "SLOAD", Values: []string{"0x0"}}, // inside the callee, depth 2
		{PC: "0x1", Op: "RETURN", Values: nil},            // callee returns, still depth 2 when witnessed
		{PC: "0x3", Op: "STOP", Values: nil},
	}

	ops, err := ToOperations(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 depth-1 ops, got %d", len(ops))
	}
	if ops[0].Op != opcodes.PUSH1 || ops[1].Op != opcodes.CALL || ops[2].Op != opcodes.STOP {
		t.Errorf("unexpected ops sequence: %+v", ops)
	}
	if ops[2].PC != 3 {
		t.Errorf("expected STOP pc 3, got %d", ops[2].PC)
	}
}

func TestToOperations_NestedCallsRestoreDepthOnReturn(t *testing.T) {
	steps := []StepRecord{
		{PC: "0x0", Op: "CALL"},
		{PC: "0x0", Op: "CALL"}, // nested call one level deeper, still not depth 1
		{PC: "0x0", Op: "STOP"}, // innermost frame stops
		{PC: "0x0", Op: "RETURN"}, // the CALL's own frame returns
		{PC: "0x5", Op: "STOP"},   // back at depth 1
	}

	ops, err := ToOperations(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 depth-1 ops (the outer CALL and the final STOP), got %d", len(ops))
	}
	if ops[1].PC != 5 {
		t.Errorf("expected final depth-1 op at pc 5, got %d", ops[1].PC)
	}
}

func TestToOperations_UnknownMnemonic_BecomesMissing(t *testing.T) {
	steps := []StepRecord{{PC: "0x0", Op: "NOTANOPCODE"}}
	ops, err := ToOperations(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ops[0].Op != opcodes.MISSING {
		t.Errorf("expected MISSING for unrecognized mnemonic, got %v", ops[0].Op)
	}
}

func TestToOperations_MalformedPC_ReturnsError(t *testing.T) {
	steps := []StepRecord{{PC: "not-hex", Op: "STOP"}}
	if _, err := ToOperations(steps); !errors.Is(err, ErrMalformedPC) {
		t.Errorf("expected ErrMalformedPC, got %v", err)
	}
}

func TestFetch_CallsDebugTraceTransactionWithHash(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := NewMockRPCClient(ctrl)
	client.EXPECT().
		CallContext(gomock.Any(), gomock.Any(), "debug_traceTransaction", "0xabc", gomock.Any()).
		DoAndReturn(func(_ context.Context, result interface{}, _ string, _ ...interface{}) error {
			out := result.(*traceResult)
			out.StructLogs = []StepRecord{{PC: "0x0", Op: "STOP"}}
			return nil
		})

	steps, err := Fetch(context.Background(), client, "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(steps) != 1 || steps[0].Op != "STOP" {
		t.Errorf("expected the mocked structLogs to be returned, got %+v", steps)
	}
}
