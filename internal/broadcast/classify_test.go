package broadcast

import (
	"errors"
	"fmt"
	"testing"

	"adcast/internal/platform"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		err     error
		kind    Kind
		seconds int
	}{
		{name: "flood", err: &platform.FloodWaitError{Seconds: 42}, kind: KindFloodWait, seconds: 42},
		{name: "wrapped flood", err: fmt.Errorf("send: %w", &platform.FloodWaitError{Seconds: 7}), kind: KindFloodWait, seconds: 7},
		{name: "slowmode", err: &platform.SlowmodeError{Seconds: 30}, kind: KindSlowmode, seconds: 30},
		{name: "write forbidden", err: platform.ErrWriteForbidden, kind: KindWriteForbidden},
		{name: "chat restricted", err: platform.ErrChatRestricted, kind: KindChatRestricted},
		{name: "premium folds into restricted", err: platform.ErrPremiumRequired, kind: KindChatRestricted},
		{name: "auth revoked", err: platform.ErrAuthRevoked, kind: KindAuthRevoked},
		{name: "anything else", err: errors.New("connection reset"), kind: KindTransient},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			kind, seconds := Classify(tt.err)
			if kind != tt.kind {
				t.Fatalf("kind = %v, want %v", kind, tt.kind)
			}
			if seconds != tt.seconds {
				t.Fatalf("seconds = %d, want %d", seconds, tt.seconds)
			}
		})
	}
}
