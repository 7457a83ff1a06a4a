package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Sentinel errors for the scene directory and presence lookups.
var (
	// ErrAlreadyActive is returned when a scene already exists for a user.
	// Callers that intend to restart an interaction should use
	// Directory.Replace instead of end-then-retry.
	ErrAlreadyActive = errors.New("scene already active for user")

	// ErrNotFound is returned for lookups that miss. Presence and scene
	// queries treat this as an empty result, not a failure.
	ErrNotFound = errors.New("not found")
)

// DeliveryError wraps a messaging backend failure. It is reported in the
// dispatch result, never propagated to the HTTP caller.
type DeliveryError struct {
	Channel string
	UserID  int64
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s to user %d failed: %v", e.Channel, e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError wraps err as a delivery failure for the given backend.
func NewDeliveryError(channel string, userID int64, err error) *DeliveryError {
	return &DeliveryError{Channel: channel, UserID: userID, Err: err}
}

// ActionError wraps a per-scene broadcast action failure. The broadcast
// batch logs it and continues with the remaining matches.
type ActionError struct {
	UserID int64
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("scene action %q for user %d failed: %v", e.Action, e.UserID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// NewActionError wraps err as a broadcast action failure.
func NewActionError(userID int64, action string, err error) *ActionError {
	return &ActionError{UserID: userID, Action: action, Err: err}
}

// IsTransient reports whether an error is worth retrying: network-level
// failures, timeouts, and throttling responses from a messaging platform.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return IsTransient(deliveryErr.Err)
	}

	if isNetworkError(err) || isSyscallError(err) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"too many requests",
		"429",
		"500",
		"502",
		"503",
		"504",
		"timeout",
		"deadline exceeded",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	// Default: not transient, to avoid retry storms against a platform
	// that rejected the message outright.
	return false
}

// Truncate renders err as a string capped at max bytes. Responses carry a
// short error description, not full platform stack traces.
func Truncate(err error, max int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if max > 0 && len(msg) > max {
		return msg[:max]
	}
	return msg
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network",
		"dns",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}
