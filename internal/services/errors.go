package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Classification markers for adapter failures. Adapters wrap their errors
// with one of these sentinels; the orchestrator switches on them and never
// inspects raw adapter errors.
var (
	// ErrTransient covers network timeouts, 5xx responses, and other
	// failures worth retrying under the normal backoff budget.
	ErrTransient = errors.New("transient failure")
	// ErrAuthExpired means the access token was rejected; the credential
	// store should refresh and the operation be retried once.
	ErrAuthExpired = errors.New("authorization expired")
	// ErrQuotaExceeded means the publishing API rate-limited or exhausted
	// quota; further publish attempts for the serial pause for a cooldown.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrRejected is a permanent refusal (invalid payload, policy); the
	// episode dead-letters immediately.
	ErrRejected = errors.New("rejected")
	// ErrAuthorizationLost means the refresh credential itself is invalid;
	// all publishing halts until an operator installs a new one.
	ErrAuthorizationLost = errors.New("authorization lost")
)

// Wrap builds an error message that includes adapter context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above; a nil marker defaults to
// ErrTransient.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether an error should consume the normal retry
// budget. Auth, quota, and permanent errors are handled by dedicated paths.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrRejected),
		errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, ErrAuthExpired),
		errors.Is(err, ErrAuthorizationLost):
		return false
	default:
		return true
	}
}

// ClassifyNetworkError maps low-level transport failures onto the taxonomy.
// Context cancellation passes through untouched so shutdown is not mistaken
// for an adapter fault.
func ClassifyNetworkError(component, operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Wrap(ErrTransient, component, operation, "request timed out", err)
	}
	return Wrap(ErrTransient, component, operation, "request failed", err)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
