package types

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrUnsupportedPlatform      = errors.New("unsupported platform")
	ErrRedirectResolutionFailed = errors.New("redirect resolution failed")
	ErrNoCandidatesFound        = errors.New("no candidates found")
	ErrDownloadFailed           = errors.New("download failed")
	ErrEmptyPlaylist            = errors.New("empty playlist")
	ErrExternalToolFailed       = errors.New("external tool failed")
	ErrTimeout                  = errors.New("timeout")
)

// StageError records which pipeline stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with a stage name.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

type timeoutError struct {
	err error
}

func (e *timeoutError) Error() string {
	return "timeout: " + e.err.Error()
}

func (e *timeoutError) Unwrap() []error {
	return []error{ErrTimeout, e.err}
}

// WrapTimeout marks network and context timeouts so they match ErrTimeout.
// Other errors are returned unchanged.
func WrapTimeout(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &timeoutError{err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &timeoutError{err: err}
	}
	return err
}
