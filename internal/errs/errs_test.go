package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{fmt.Errorf("send dm: %w", ErrDeliveryRefused), ClassDelivery},
		{fmt.Errorf("rename: %w", ErrForbidden), ClassStructural},
		{ErrGone, ClassStructural},
		{fmt.Errorf("summary: %w", ErrMalformedHandle), ClassLookup},
		{ErrRegionRequired, ClassValidation},
		{&ClaimConflictError{ClaimantID: "s1"}, ClassAuthorization},
		{fmt.Errorf("intake: %w", &DeniedError{Reason: "too young"}), ClassIntake},
		{errors.New("boom"), ClassInternal},
		{nil, ClassInternal},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(fmt.Errorf("toggle: %w", &ClaimConflictError{ClaimantID: "s1"})); got != "This ticket is already claimed by <@s1>." {
		t.Fatalf("conflict = %q", got)
	}
	if got := UserMessage(&DeniedError{Reason: "You must be 13."}); got != "You must be 13." {
		t.Fatalf("denied = %q", got)
	}
	if UserMessage(errors.New("boom")) == "" {
		t.Fatal("internal errors need a message too")
	}
}
