package clock

import (
	"context"
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	logx "adcast/pkg/logx"
)

// Well-known schedule specs accepted by Cron.Register in addition to raw
// crontab expressions.
const (
	EveryMinute = "EVERY_MINUTE"
	EveryHour   = "EVERY_HOUR"
)

var (
	reEveryHours = regexp.MustCompile(`^(?i)every\s+(\d{1,3})h(?:ours?)?$`)
	reDailyAt    = regexp.MustCompile(`^(?i)daily\s+(\d{1,2}):(\d{2})$`)
)

// TranslateSpec normalizes a schedule spec into a robfig/cron expression.
//
// Supported forms:
//   - EVERY_MINUTE, EVERY_HOUR
//   - "every Nh" (e.g. "every 6h")
//   - "daily HH:MM" (e.g. "daily 03:00")
//   - any raw cron expression ("*/5 * * * *", "@hourly", ...)
func TranslateSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}
	switch s {
	case EveryMinute:
		return "* * * * *", nil
	case EveryHour:
		return "0 * * * *", nil
	}
	if m := reEveryHours.FindStringSubmatch(s); m != nil {
		return "@every " + m[1] + "h", nil
	}
	if m := reDailyAt.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if hh > 23 || mm > 59 {
			return "", fmt.Errorf("invalid daily time %q", raw)
		}
		return fmt.Sprintf("%d %d * * *", mm, hh), nil
	}
	return s, nil
}

// Cron runs named periodic jobs on translated specs.
//
// Jobs are fire-and-log: a panic or error in one job never blocks another
// (each entry runs on robfig's own goroutine per fire).
type Cron struct {
	mu  sync.Mutex
	c   *cron.Cron
	log logx.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewCron(log logx.Logger) *Cron {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cron{
		c:   cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		log: log,
	}
}

// Register adds a named job on the given spec. Returns the normalized cron
// expression for logging.
func (cr *Cron) Register(spec, name string, fn func(ctx context.Context) error) (string, error) {
	expr, err := TranslateSpec(spec)
	if err != nil {
		return "", err
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	_, err = cr.c.AddFunc(expr, func() {
		cr.mu.Lock()
		ctx := cr.ctx
		cr.mu.Unlock()
		if ctx == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				cr.log.Error("cron job panicked", logx.String("job", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		if err := fn(ctx); err != nil {
			cr.log.Warn("cron job failed", logx.String("job", name), logx.Err(err))
		}
	})
	if err != nil {
		return "", fmt.Errorf("register %s (%s): %w", name, expr, err)
	}
	cr.log.Debug("cron job registered", logx.String("job", name), logx.String("spec", expr))
	return expr, nil
}

func (cr *Cron) Start(ctx context.Context) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.ctx != nil {
		return
	}
	cr.ctx, cr.cancel = context.WithCancel(ctx)
	cr.c.Start()
}

func (cr *Cron) Stop() {
	cr.mu.Lock()
	cancel := cr.cancel
	cr.ctx = nil
	cr.cancel = nil
	cr.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-cr.c.Stop().Done()
}
