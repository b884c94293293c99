package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{NotFound("lead not found"), http.StatusNotFound},
		{Validation("bad channel"), http.StatusBadRequest},
		{Conflict("follow-up is not pending"), http.StatusConflict},
		{Unavailable("scheduler not configured"), http.StatusServiceUnavailable},
		{Internal("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.want {
			t.Fatalf("%q: expected %d, got %d", tc.err.Message, tc.want, got)
		}
	}
}

func TestGetKindFollowsWrappedErrors(t *testing.T) {
	base := NotFound("follow-up not found")
	wrapped := fmt.Errorf("cancel follow-up: %w", base)

	if !Is(wrapped, KindNotFound) {
		t.Fatalf("expected wrapped error to keep KindNotFound, got %v", GetKind(wrapped))
	}
	if GetKind(errors.New("plain")) != KindUnknown {
		t.Fatal("expected plain errors to be KindUnknown")
	}
}

func TestErrorIncludesOpAndCause(t *testing.T) {
	err := Wrap(KindInternal, "store write failed", errors.New("connection reset")).WithOp("followups.create")
	if got := err.Error(); got != "followups.create: store write failed: connection reset" {
		t.Fatalf("unexpected message %q", got)
	}
}
