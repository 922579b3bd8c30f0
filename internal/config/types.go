package config

// Config is the daemon configuration. Durations are strings in the
// schedule duration syntax ("500ms", "10s", "1h30m", "2d").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Lock      LockConfig      `json:"lock"`
	Storage   StorageConfig   `json:"storage"`
	Ops       OpsConfig       `json:"ops"`
	Alerts    AlertsConfig    `json:"alerts"`
	Jobs      []JobConfig     `json:"jobs" validate:"dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled off none"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduling loop.
//
// Defaults (when fields are omitted/zero):
//   - frequency: "300ms"
//   - timezone: local
//   - error_log_every: "1s"
//   - shutdown: "wait", shutdown_timeout: "30s"
type SchedulerConfig struct {
	Frequency       string `json:"frequency,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	ErrorLogEvery   string `json:"error_log_every,omitempty"`
	Shutdown        string `json:"shutdown,omitempty" validate:"omitempty,oneof=wait kill none"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// EngineConfig controls the worker pool. max_workers defaults to 28 and
// queue_size 0 keeps the queue unbounded.
type EngineConfig struct {
	MinWorkers     int    `json:"min_workers,omitempty" validate:"gte=0"`
	MaxWorkers     int    `json:"max_workers,omitempty" validate:"gte=0"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	IdleTimeout    string `json:"idle_timeout,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty" validate:"gte=0"`
}

// LockConfig selects the advisory lock shared by scheduler instances.
//
// Example:
//
//	"lock": { "backend": "redis", "redis_addr": "127.0.0.1:6379", "ttl": "30s" }
type LockConfig struct {
	Backend       string `json:"backend,omitempty" validate:"omitempty,oneof=none file redis"`
	Path          string `json:"path,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty" validate:"required_if=Backend redis"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" validate:"gte=0"`
	Key           string `json:"key,omitempty"`
	TTL           string `json:"ttl,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}

// StorageConfig controls the execution history.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./var/schedkit" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Retain      int    `json:"retain,omitempty" validate:"gte=0"`
}

// OpsConfig controls the optional HTTP server for /metrics, /jobs and pprof.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// AlertsConfig posts failed and timed out executions to a webhook.
//
// Example:
//
//	"alerts": { "enabled": true, "url": "https://hooks.example.com/x", "dedup_window": "10m" }
type AlertsConfig struct {
	Enabled bool              `json:"enabled"`
	URL     string            `json:"url,omitempty" validate:"omitempty,url"`
	Headers map[string]string `json:"headers,omitempty"` // may hold secrets (do not log)

	Workers       int    `json:"workers,omitempty" validate:"gte=0"`
	QueueSize     int    `json:"queue_size,omitempty" validate:"gte=0"`
	RatePerSec    int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
	RetryMax      int    `json:"retry_max,omitempty" validate:"gte=0"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// JobConfig declares a command job. Exactly one of command (argv) and
// shell (run with "sh -c") is required. Options take the keys accepted by
// scheduler.ParseOptions.
type JobConfig struct {
	Name     string            `json:"name" validate:"required"`
	Schedule string            `json:"schedule" validate:"required"`
	Command  []string          `json:"command,omitempty" validate:"required_without=Shell,excluded_with=Shell"`
	Shell    string            `json:"shell,omitempty" validate:"required_without=Command"`
	Dir      string            `json:"dir,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
	Options  map[string]any    `json:"options,omitempty"`
}
