package config

// Config is the daemon's file configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "15m"); zero/omitted fields fall back to the
// engine's conservative defaults.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Platform PlatformConfig `json:"platform"`
	Engine   EngineConfig   `json:"engine"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the repository backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./adcast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PlatformConfig configures the messaging-platform binding.
type PlatformConfig struct {
	ConnectionRetries int `json:"connection_retries,omitempty"`

	// Chats maps a session id to the chat ids that session treats as its
	// joined set (the Bot API cannot enumerate memberships).
	Chats map[int64][]int64 `json:"chats,omitempty"`
}

// EngineConfig is the anti-throttle option set. Each field maps onto the
// broadcast.Options field of the same meaning; the log trim size and the poll
// cadences have no config field and keep their defaults.
type EngineConfig struct {
	MinGroupDelay    string `json:"min_group_delay,omitempty"`
	MaxGroupDelay    string `json:"max_group_delay,omitempty"`
	RoundPause       string `json:"round_pause,omitempty"`
	RoundPauseJitter string `json:"round_pause_jitter,omitempty"`

	SessionMessageLimit int    `json:"session_message_limit,omitempty"`
	SessionCooldown     string `json:"session_cooldown,omitempty"`

	MaxFloodPerSession int    `json:"max_flood_per_session,omitempty"`
	FloodFreeze        string `json:"flood_freeze,omitempty"`

	MaxConsecutiveErrors int    `json:"max_consecutive_errors,omitempty"`
	ErrorCooldown        string `json:"error_cooldown,omitempty"`

	GroupCooldown string `json:"group_cooldown,omitempty"`

	LongPauseInterval int    `json:"long_pause_interval,omitempty"`
	LongPauseMin      string `json:"long_pause_min,omitempty"`
	LongPauseMax      string `json:"long_pause_max,omitempty"`

	MaxJobLogEntries int `json:"max_job_log_entries,omitempty"`
	PriorityTopN     int `json:"priority_top_n,omitempty"`
}
