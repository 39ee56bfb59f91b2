package broadcast

import (
	"errors"

	"adcast/internal/platform"
)

// Kind is the engine's error taxonomy. The platform adapter decodes wire
// errors into the typed set in internal/platform; Classify folds those into
// the handful of behaviours the drivers act on.
type Kind int

const (
	KindTransient Kind = iota
	KindFloodWait
	KindSlowmode
	KindWriteForbidden
	KindChatRestricted
	KindAuthRevoked
)

func (k Kind) String() string {
	switch k {
	case KindFloodWait:
		return "flood_wait"
	case KindSlowmode:
		return "slowmode"
	case KindWriteForbidden:
		return "write_forbidden"
	case KindChatRestricted:
		return "chat_restricted"
	case KindAuthRevoked:
		return "auth_revoked"
	default:
		return "transient"
	}
}

// Classify maps a send error to its kind. seconds is set for the two timed
// signals (flood, slowmode).
func Classify(err error) (kind Kind, seconds int) {
	var flood *platform.FloodWaitError
	if errors.As(err, &flood) {
		return KindFloodWait, flood.Seconds
	}
	var slow *platform.SlowmodeError
	if errors.As(err, &slow) {
		return KindSlowmode, slow.Seconds
	}
	switch {
	case errors.Is(err, platform.ErrAuthRevoked):
		return KindAuthRevoked, 0
	case errors.Is(err, platform.ErrWriteForbidden):
		return KindWriteForbidden, 0
	case errors.Is(err, platform.ErrChatRestricted),
		errors.Is(err, platform.ErrPremiumRequired):
		// Premium-gated chats behave like restricted ones for this engine.
		return KindChatRestricted, 0
	}
	return KindTransient, 0
}
