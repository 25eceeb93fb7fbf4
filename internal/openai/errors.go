package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// NotFoundError is returned when a local path does not reference a readable
// regular file. No request is sent in that case.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("file not found: %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("file not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// RemoteError is a non-2xx reply from the API.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Type       string
	Code       string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no error message"
	}
	return fmt.Sprintf("openai: %s: HTTP %d: %s", e.Op, e.StatusCode, msg)
}

// Retryable reports whether the same request may succeed later.
func (e *RemoteError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// TimeoutError is returned when a connect or read deadline elapses.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("openai: %s: timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout lets TimeoutError satisfy net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

const maxErrorBody = 512

type errorEnvelope struct {
	Error *struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

func newRemoteError(op string, status int, body []byte) *RemoteError {
	re := &RemoteError{Op: op, StatusCode: status}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		re.Message = env.Error.Message
		re.Type = env.Error.Type
		var code string
		if json.Unmarshal(env.Error.Code, &code) == nil {
			re.Code = code
		}
		return re
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	re.Message = msg
	return re
}

// classify turns a transport failure into a TimeoutError when a deadline
// elapsed and wraps it with the operation name otherwise.
// ErrNoStoreID is returned when store creation succeeds without an id.
var ErrNoStoreID = errors.New("openai: create store: response carried no store id")

func classify(op string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{Op: op, Err: err}
	}
	return fmt.Errorf("openai: %s: %w", op, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isRateLimit(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode == 429
}
