package telegram

import (
	"errors"
	"testing"

	tele "gopkg.in/telebot.v4"

	"adcast/internal/platform"
)

func TestDecodeError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "flood error carries retry after",
			err:  tele.FloodError{RetryAfter: 37},
			want: &platform.FloodWaitError{Seconds: 37},
		},
		{
			name: "kicked from group",
			err:  &tele.Error{Code: 403, Description: "Forbidden: bot was kicked from the supergroup chat"},
			want: platform.ErrWriteForbidden,
		},
		{
			name: "no send rights",
			err:  &tele.Error{Code: 400, Description: "Bad Request: have no rights to send a message"},
			want: platform.ErrWriteForbidden,
		},
		{
			name: "unauthorized credential",
			err:  &tele.Error{Code: 401, Description: "Unauthorized"},
			want: platform.ErrAuthRevoked,
		},
		{
			name: "slowmode",
			err:  errors.New("telegram: SLOWMODE_WAIT_25 (400)"),
			want: &platform.SlowmodeError{Seconds: 25},
		},
		{
			name: "restricted chat",
			err:  &tele.Error{Code: 400, Description: "Bad Request: CHAT_RESTRICTED"},
			want: platform.ErrChatRestricted,
		},
		{
			name: "unknown stays transient",
			err:  errors.New("connection reset by peer"),
			want: nil, // passes through unchanged
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := decodeError(tt.err)
			switch want := tt.want.(type) {
			case nil:
				if got != tt.err {
					t.Fatalf("transient error rewritten: %v", got)
				}
			case *platform.FloodWaitError:
				var fw *platform.FloodWaitError
				if !errors.As(got, &fw) || fw.Seconds != want.Seconds {
					t.Fatalf("got %v, want flood wait %d", got, want.Seconds)
				}
			case *platform.SlowmodeError:
				var sm *platform.SlowmodeError
				if !errors.As(got, &sm) || sm.Seconds != want.Seconds {
					t.Fatalf("got %v, want slowmode %d", got, want.Seconds)
				}
			default:
				if !errors.Is(got, want) {
					t.Fatalf("got %v, want %v", got, want)
				}
			}
		})
	}
}

func TestParseTrailingSeconds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int
	}{
		{"TOO MANY REQUESTS: RETRY AFTER 42", 42},
		{"SLOWMODE_WAIT_25 (400)", 400},
		{"no digits here", 0},
	}
	for _, tt := range tests {
		if got := parseTrailingSeconds(tt.in); got != tt.want {
			t.Fatalf("parseTrailingSeconds(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if got := parseLeadingSeconds("SLOWMODE_WAIT_25 (400)", "SLOWMODE_WAIT_"); got != 25 {
		t.Fatalf("parseLeadingSeconds = %d, want 25", got)
	}
}
