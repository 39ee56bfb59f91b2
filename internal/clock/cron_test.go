package clock

import (
	"context"
	"testing"
	"time"
)

func TestTranslateSpecVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "every minute", raw: "EVERY_MINUTE", want: "* * * * *"},
		{name: "every hour", raw: "EVERY_HOUR", want: "0 * * * *"},
		{name: "every 6 hours", raw: "every 6h", want: "@every 6h"},
		{name: "daily at three", raw: "daily 03:00", want: "0 3 * * *"},
		{name: "daily at midnight", raw: "daily 00:00", want: "0 0 * * *"},
		{name: "daily with minutes", raw: "daily 14:35", want: "35 14 * * *"},
		{name: "raw cron passthrough", raw: "*/5 * * * *", want: "*/5 * * * *"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := TranslateSpec(tt.raw)
			if err != nil {
				t.Fatalf("TranslateSpec(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("TranslateSpec(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTranslateSpecInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "daily 24:00", "daily 10:75"} {
		if _, err := TranslateSpec(raw); err == nil {
			t.Fatalf("TranslateSpec(%q): expected error", raw)
		}
	}
}

func TestSystemSleepCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := System{}.Sleep(ctx, 5*time.Second)
	if err == nil {
		t.Fatal("expected ctx error from early wake")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep did not wake early, took %v", time.Since(start))
	}
}
