// Package telegram binds the platform.Client capability to the Telegram Bot
// API via telebot. One bot per session credential; the session string is the
// bot token.
//
// The Bot API cannot enumerate joined chats, so each session carries a
// configured chat list that SyncGroups refreshes against the live API.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"adcast/internal/model"
	"adcast/internal/platform"
	logx "adcast/pkg/logx"
)

// Config for one adapter instance.
type Config struct {
	// ChatIDs lists the chats this session should treat as its joined set,
	// keyed by session id. SyncGroups snapshots these against the live API.
	ChatIDs map[int64][]int64
}

// Dialer creates telebot-backed clients.
type Dialer struct {
	cfg Config
	log logx.Logger
}

func NewDialer(cfg Config, log logx.Logger) *Dialer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dialer{cfg: cfg, log: log}
}

func (d *Dialer) Dial(_ context.Context, session model.Session) (platform.Client, error) {
	if strings.TrimSpace(session.SessionString) == "" {
		return nil, platform.ErrAuthRevoked
	}
	return &client{
		token:   session.SessionString,
		chatIDs: d.cfg.ChatIDs[session.ID],
		log:     d.log.With(logx.Int64("session", session.ID)),
	}, nil
}

type client struct {
	token   string
	chatIDs []int64
	log     logx.Logger

	bot       atomic.Pointer[tele.Bot]
	connected atomic.Bool
}

func (c *client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	// telebot validates the credential (getMe) inside NewBot.
	b, err := tele.NewBot(tele.Settings{
		Token:  c.token,
		Poller: nil,
		Client: nil,
	})
	if err != nil {
		return decodeError(err)
	}
	c.bot.Store(b)
	c.connected.Store(true)
	return ctx.Err()
}

func (c *client) Disconnect() error {
	c.connected.Store(false)
	c.bot.Store(nil)
	return nil
}

func (c *client) IsConnected() bool { return c.connected.Load() }

func (c *client) SyncGroups(ctx context.Context) ([]platform.GroupSnapshot, error) {
	b := c.bot.Load()
	if b == nil || !c.connected.Load() {
		return nil, platform.ErrNotConnected
	}
	out := make([]platform.GroupSnapshot, 0, len(c.chatIDs))
	for _, id := range c.chatIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		chat, err := b.ChatByID(id)
		if err != nil {
			c.log.Warn("chat snapshot failed", logx.Int64("chat", id), logx.Err(decodeError(err)))
			continue
		}
		members, err := b.Len(chat)
		if err != nil {
			members = 0
		}
		out = append(out, platform.GroupSnapshot{
			PlatformID:  strconv.FormatInt(chat.ID, 10),
			Title:       chat.Title,
			Kind:        chatKind(chat.Type),
			MemberCount: members,
			Username:    chat.Username,
		})
	}
	return out, nil
}

func (c *client) Send(ctx context.Context, platformGroupID, text string) (platform.SendResult, error) {
	b := c.bot.Load()
	if b == nil || !c.connected.Load() {
		return platform.SendResult{}, platform.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return platform.SendResult{}, err
	}
	id, err := strconv.ParseInt(platformGroupID, 10, 64)
	if err != nil {
		return platform.SendResult{}, err
	}
	msg, err := b.Send(&tele.Chat{ID: id}, text)
	if err != nil {
		return platform.SendResult{}, decodeError(err)
	}
	return platform.SendResult{MessageID: strconv.Itoa(msg.ID)}, nil
}

func chatKind(t tele.ChatType) string {
	switch t {
	case tele.ChatSuperGroup:
		return model.GroupKindSupergroup
	case tele.ChatChannel, tele.ChatChannelPrivate:
		return model.GroupKindChannel
	default:
		return model.GroupKindGroup
	}
}

// decodeError maps telebot errors onto the platform taxonomy. This function is
// the only place that knows Telegram's dialect.
func decodeError(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &platform.FloodWaitError{Seconds: flood.RetryAfter}
	}

	desc := strings.ToUpper(err.Error())
	switch {
	case strings.Contains(desc, "SLOWMODE_WAIT"):
		return &platform.SlowmodeError{Seconds: parseLeadingSeconds(desc, "SLOWMODE_WAIT_")}
	case strings.Contains(desc, "RETRY AFTER"), strings.Contains(desc, "TOO MANY REQUESTS"):
		n := parseTrailingSeconds(desc)
		if n <= 0 {
			n = 5
		}
		return &platform.FloodWaitError{Seconds: n}
	case strings.Contains(desc, "UNAUTHORIZED"), strings.Contains(desc, "AUTH_KEY"):
		return platform.ErrAuthRevoked
	case strings.Contains(desc, "KICKED"),
		strings.Contains(desc, "CHAT_WRITE_FORBIDDEN"),
		strings.Contains(desc, "NOT ENOUGH RIGHTS"),
		strings.Contains(desc, "HAVE NO RIGHTS"),
		strings.Contains(desc, "CHAT NOT FOUND"):
		return platform.ErrWriteForbidden
	case strings.Contains(desc, "RESTRICTED"):
		return platform.ErrChatRestricted
	case strings.Contains(desc, "PREMIUM"):
		return platform.ErrPremiumRequired
	}
	return err
}

// parseLeadingSeconds pulls the integer immediately following a marker
// ("SLOWMODE_WAIT_25 (400)" with marker "SLOWMODE_WAIT_" -> 25).
func parseLeadingSeconds(s, marker string) int {
	i := strings.Index(s, marker)
	if i < 0 {
		return 0
	}
	rest := s[i+len(marker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return n
}

// parseTrailingSeconds pulls the last integer out of an error description
// ("Too Many Requests: retry after 37" -> 37).
func parseTrailingSeconds(s string) int {
	end := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] >= '0' && s[i] <= '9' {
			end = i + 1
			break
		}
	}
	if end < 0 {
		return 0
	}
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return 0
	}
	return n
}
