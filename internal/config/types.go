package config

// Config is the full process configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Zero/omitted fields fall back to per-service defaults applied by the
// consuming component, so a minimal config file stays minimal.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Worker   WorkerConfig   `json:"worker"`
	Slack    SlackConfig    `json:"slack"`
	Query    QueryConfig    `json:"query"`
	Renderer RendererConfig `json:"renderer"`
	Objstore ObjstoreConfig `json:"objstore"`
}

// ServerConfig controls the HTTP front door.
//
// An empty AuthSecret disables bearer auth entirely (explicit permissive
// mode for local deployments, not a bug).
type ServerConfig struct {
	Addr         string `json:"addr,omitempty"` // default ":8080"
	AuthSecret   string `json:"auth_secret,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the sqlite record store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// WorkerConfig controls the delivery worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 5
//   - queue_size: 256
//   - default_timeout: "2m"
type WorkerConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// SlackConfig controls the messaging platform client.
type SlackConfig struct {
	BaseURL      string `json:"base_url,omitempty"` // default "https://slack.com/api"
	SendTimeout  string `json:"send_timeout,omitempty"`
	ProbeTimeout string `json:"probe_timeout,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	TokenTTL     string `json:"token_ttl,omitempty"`
}

// QueryConfig controls the query engine client.
type QueryConfig struct {
	BaseURL      string `json:"base_url,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	MaxWait      string `json:"max_wait,omitempty"`
}

// RendererConfig controls the headless render engine client.
type RendererConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// ObjstoreConfig controls the object store client used to persist rendered
// visualizations.
type ObjstoreConfig struct {
	BaseURL       string `json:"base_url,omitempty"`
	PublicBaseURL string `json:"public_base_url,omitempty"`
	Bucket        string `json:"bucket,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}
