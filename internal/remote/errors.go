package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a delivery failure. Network and timeout failures are
// transient and retry-eligible; rejections and authorization failures are
// permanent and terminate the operation.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindApplicationRejected
	KindAuthorizationDenied
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindApplicationRejected:
		return "rejected"
	case KindAuthorizationDenied:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is a typed delivery failure from the remote backend.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s error: %s", e.Kind, e.Message)
}

// Transient reports whether the failure may succeed on replay.
func (e *Error) Transient() bool {
	return e.Kind == KindNetwork || e.Kind == KindTimeout
}

// Classify maps an arbitrary delivery error onto a Kind. Transport-level
// failures and timeouts count as transient; anything unrecognized is
// treated as a network error so it stays retry-eligible rather than
// silently terminating an operation.
func Classify(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindNetwork
}

// IsTransient reports whether err may succeed on replay.
func IsTransient(err error) bool {
	k := Classify(err)
	return k == KindNetwork || k == KindTimeout
}
