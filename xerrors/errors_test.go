package xerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestBindCarriesPortAndCause(t *testing.T) {
	cause := errors.New("address already in use")
	err := fmt.Errorf("start: %w", Bind(8080, cause))

	e, ok := FromError(err)
	if !ok {
		t.Fatal("expected *Error in chain")
	}
	if e.Type != ErrBind {
		t.Errorf("expected ErrBind, got %s", e.Type)
	}
	if e.Context["port"] != 8080 {
		t.Errorf("expected port 8080, got %v", e.Context["port"])
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through errors.Is")
	}
	if e.HTTPStatus() != http.StatusServiceUnavailable {
		t.Errorf("unexpected status %d", e.HTTPStatus())
	}
}

func TestIsTypeWalksNestedErrors(t *testing.T) {
	inner := Bind(1, errors.New("denied"))
	outer := InvalidState("start", "idle", inner)

	if !IsType(outer, ErrInvalidState) || !IsType(outer, ErrBind) {
		t.Error("expected both types in chain")
	}
	if IsType(outer, ErrConnection) {
		t.Error("unexpected connection type")
	}
	if TypeOf(errors.New("plain")) != ErrUnknown {
		t.Error("plain errors should be ErrUnknown")
	}
}

func TestListenerCallbackFromPanicValue(t *testing.T) {
	e := ListenerCallback("request", "nil map write")
	if e.Cause == nil || e.Cause.Error() != "nil map write" {
		t.Errorf("unexpected cause %v", e.Cause)
	}
	if e.Context["event"] != "request" {
		t.Errorf("unexpected event %v", e.Context["event"])
	}
}
