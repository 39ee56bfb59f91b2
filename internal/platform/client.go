package platform

import (
	"context"

	"adcast/internal/model"
)

// GroupSnapshot is what a group sync yields per joined chat.
type GroupSnapshot struct {
	PlatformID  string
	Title       string
	Kind        string
	MemberCount int
	Username    string
}

// SendResult carries the platform message id when the platform returns one.
type SendResult struct {
	MessageID string
}

// Client is the sole dependency on the messaging platform. One Client per
// session credential; implementations decode platform errors into the typed
// set in errors.go.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	SyncGroups(ctx context.Context) ([]GroupSnapshot, error)
	Send(ctx context.Context, platformGroupID, text string) (SendResult, error)
}

// Dialer constructs a Client from a session credential. The registry dials
// lazily so dead credentials cost nothing until used.
type Dialer interface {
	Dial(ctx context.Context, session model.Session) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, session model.Session) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, session model.Session) (Client, error) {
	return f(ctx, session)
}
