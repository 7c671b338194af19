package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "phase and kind only",
			err:  New(PhaseVerify, KindStackUnderflow).Build(),
			want: "[verify] stack_underflow",
		},
		{
			name: "with location",
			err: New(PhaseVerify, KindInvalidType).
				Func("add_one").Block(0).Instr(2).
				Expected("int32").Actual("float32").
				Detail("integer arithmetic operand").
				Build(),
			want: `[verify] invalid_type in "add_one" b0 #2: expected int32, got float32 - integer arithmetic operand`,
		},
		{
			name: "detail only",
			err: New(PhaseBuild, KindDuplicateName).
				Detail("function %q already defined", "f").
				Build(),
			want: `[build] duplicate_name: function "f" already defined`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := New(PhaseCFVerify, KindMultipleParents).Block(3).Build()

	if !stderrors.Is(err, Match(PhaseCFVerify, KindMultipleParents)) {
		t.Error("expected Is to match same phase+kind")
	}
	if stderrors.Is(err, Match(PhaseVerify, KindMultipleParents)) {
		t.Error("expected Is to reject different phase")
	}
	if stderrors.Is(err, Match(PhaseCFVerify, KindInvalidBlockTag)) {
		t.Error("expected Is to reject different kind")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := New(PhaseEmit, KindMalformedInput).Cause(cause).Build()

	if !stderrors.Is(err, cause) {
		t.Error("expected Is to find the cause")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}
