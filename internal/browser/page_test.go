package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestIsClosed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrClosed, true},
		{"wrapped sentinel", fmt.Errorf("step 3: %w", ErrClosed), true},
		{"eof", io.EOF, true},
		{"target closed", errors.New("{\"code\":-32000,\"message\":\"Target closed\"}"), true},
		{"session id", errors.New("Session with given id not found."), true},
		{"no target", errors.New("No target with given id found"), true},
		{"websocket", errors.New("websocket: close 1006 (abnormal closure)"), true},
		{"closed conn", errors.New("read tcp 127.0.0.1:1234: use of closed network connection"), true},
		{"playwright style", errors.New("Target page, context or browser has been closed"), true},

		// ordinary failures must not evict a session
		{"timeout", context.DeadlineExceeded, false},
		{"not found", errors.New("cannot find element"), false},
		{"eval", errors.New("eval js error: TypeError: x is undefined"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsClosed(tt.err); got != tt.want {
				t.Errorf("IsClosed(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("Classify(nil) must be nil")
	}

	plain := errors.New("cannot find element")
	if got := Classify(plain); got != plain {
		t.Errorf("Classify changed an ordinary error: %v", got)
	}

	raw := errors.New("Target closed")
	got := Classify(raw)
	if !errors.Is(got, ErrClosed) {
		t.Errorf("Classify(%v) does not match ErrClosed", raw)
	}
	if !errors.Is(got, raw) {
		t.Errorf("Classify(%v) lost the cause", raw)
	}
	if Classify(got) != got {
		t.Error("Classify must not wrap twice")
	}
}
