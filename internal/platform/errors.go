package platform

import (
	"errors"
	"fmt"
)

// Sentinel errors a Client must return for terminal per-group and per-session
// conditions. Anything else is treated as transient by the classifier.
var (
	ErrWriteForbidden  = errors.New("write forbidden")
	ErrChatRestricted  = errors.New("chat restricted")
	ErrPremiumRequired = errors.New("premium required")
	ErrAuthRevoked     = errors.New("auth revoked")
	ErrNotConnected    = errors.New("session not connected")
)

// FloodWaitError is the platform's per-account "wait N seconds" signal.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string { return fmt.Sprintf("FLOOD_WAIT %d", e.Seconds) }

// SlowmodeError is the platform's per-chat "wait N seconds" throttle.
type SlowmodeError struct {
	Seconds int
}

func (e *SlowmodeError) Error() string { return fmt.Sprintf("slowmode %d", e.Seconds) }
