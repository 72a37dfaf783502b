package errors

import (
	"testing"

	crdb "github.com/cockroachdb/errors"
)

type op string

func (o op) String() string { return string(o) }

func TestStepError(t *testing.T) {
	cause := crdb.New("boom")
	err := crdb.Wrap(WrapStepError(cause, 3, op("EEOP_CONST"), "resolve"), "compile")

	if !IsStepError(err) {
		t.Fatalf("wrapped step error not recognised")
	}
	if step, ok := StepOf(err); !ok || step != 3 {
		t.Errorf("StepOf = %d, %v", step, ok)
	}
	if !crdb.Is(err, cause) {
		t.Errorf("cause lost")
	}
	if got, want := StepErrorf(1, op("EEOP_DONE"), "bad %s", "patch").Error(), "step 1 (EEOP_DONE): bad patch"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if IsStepError(cause) {
		t.Errorf("plain error reported as step error")
	}
}
