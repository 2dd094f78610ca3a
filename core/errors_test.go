package core_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-fitsync/core"
)

type invalidMessage struct{}

func (invalidMessage) Type() string { return "fitsync.test.invalid" }

func (invalidMessage) Validate() error {
	return goerrors.NewValidation("command: validation failed", goerrors.FieldError{Field: "user_id", Message: "user id is required"}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorInvalidRequest)
}

func TestKindOf_RecodedValidationErrorIsInvalidRequest(t *testing.T) {
	err := command.ValidateMessage(invalidMessage{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if kind := core.KindOf(err); kind != core.KindInvalidRequest {
		t.Fatalf("expected invalid_request, got %q (%v)", kind, err)
	}
	mapped := core.MapError(err)
	if mapped.Code != http.StatusBadRequest || mapped.TextCode != core.ErrorInvalidRequest {
		t.Fatalf("expected 400 %s, got %d %s", core.ErrorInvalidRequest, mapped.Code, mapped.TextCode)
	}
}

func TestKindOf_ForeignCodeFallsBackToWrappedFitsyncCode(t *testing.T) {
	inner := core.NewError(core.KindFetchFailed, "strava: upstream unavailable")
	outer := &goerrors.Error{
		Category: goerrors.CategoryInternal,
		TextCode: "SOMETHING_ELSE",
		Message:  "job failed",
		Source:   fmt.Errorf("run: %w", inner),
	}
	if kind := core.KindOf(outer); kind != core.KindFetchFailed {
		t.Fatalf("expected fetch_failed from wrapped error, got %q", kind)
	}

	bare := goerrors.New("not allowed", goerrors.CategoryAuth).WithTextCode("FORBIDDEN_THING")
	if kind := core.KindOf(bare); kind != core.KindHandshakeInvalid {
		t.Fatalf("expected category default for auth, got %q", kind)
	}
}

func TestMapError_DoesNotMutateCallerError(t *testing.T) {
	original := goerrors.New("boom", goerrors.CategoryValidation).WithTextCode("VALIDATION_FAILED")
	mapped := core.MapError(original)
	if mapped == original {
		t.Fatalf("expected a copy, got the caller's error")
	}
	if original.Code != 0 || original.TextCode != "VALIDATION_FAILED" {
		t.Fatalf("expected caller error untouched, got code=%d text=%s", original.Code, original.TextCode)
	}
	if mapped.Code != http.StatusBadRequest || mapped.TextCode != core.ErrorInvalidRequest {
		t.Fatalf("unexpected mapped envelope %d %s", mapped.Code, mapped.TextCode)
	}
}

func TestKindOf_PlainErrors(t *testing.T) {
	if kind := core.KindOf(nil); kind != "" {
		t.Fatalf("expected empty kind for nil, got %q", kind)
	}
	if kind := core.KindOf(errors.New("disk on fire")); kind != core.KindInternal {
		t.Fatalf("expected internal, got %q", kind)
	}
	if kind := core.KindOf(errors.New("user id is required")); kind != core.KindInvalidRequest {
		t.Fatalf("expected invalid_request, got %q", kind)
	}
}
