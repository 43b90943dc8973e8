package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Archive   ArchiveConfig   `yaml:"archive"`
	Store     StoreConfig     `yaml:"store"`
	Window    WindowConfig    `yaml:"window"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Journal   JournalConfig   `yaml:"journal"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ArchiveConfig contains the remote archive (PACS) connection settings and
// the dcmtk tools used to talk to it.
type ArchiveConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	AETitle         string   `yaml:"ae_title"`
	CallingAETitle  string   `yaml:"calling_ae_title"`
	MoveDestination string   `yaml:"move_destination"`
	ReceivePort     int      `yaml:"receive_port"`
	OutputDir       string   `yaml:"output_dir"`
	QueryLevel      string   `yaml:"query_level"`
	SOPClassUID     string   `yaml:"sop_class_uid"`
	Modality        string   `yaml:"modality"`
	FindSCUPath     string   `yaml:"findscu_path"`
	MoveSCUPath     string   `yaml:"movescu_path"`
	Timeout         Duration `yaml:"timeout"`
}

// StoreConfig contains the local metadata store (Postgres) settings.
type StoreConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	User         string   `yaml:"user"`
	Password     string   `yaml:"-"` // env-only, never in YAML
	Database     string   `yaml:"database"`
	Table        string   `yaml:"table"`
	SSLMode      string   `yaml:"ssl_mode"`
	QueryTimeout Duration `yaml:"query_timeout"`
}

// WindowConfig controls the reconciled date range.
type WindowConfig struct {
	LookbackDays int `yaml:"lookback_days"`
}

// RetrievalConfig controls the dispatcher policy.
type RetrievalConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
	MaxBackoff  Duration `yaml:"max_backoff"`
	MinInterval Duration `yaml:"min_interval"`
}

// JournalConfig contains run journal settings. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig contains Prometheus Pushgateway settings. An empty URL disables pushing.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DSN returns the Postgres connection string for the store.
func (s StoreConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSN(s.Host), s.Port, quoteDSN(s.User), quoteDSN(s.Password), quoteDSN(s.Database), quoteDSN(s.SSLMode))
}

// quoteDSN quotes a keyword/value connection string value.
func quoteDSN(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → .env → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	configPath := getEnv("STUDYSYNC_CONFIG_PATH", "config/studysync.yaml")
	return load(configPath, false)
}

// LoadFromFile loads configuration from a specific path.
// Used by --config and in tests.
func LoadFromFile(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, mustExist bool) (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, path, mustExist); err != nil {
		return nil, err
	}

	if err := loadDotEnv(getEnv("STUDYSYNC_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Archive: ArchiveConfig{
			CallingAETitle: "PYNETDICOM",
			QueryLevel:     "IMAGE",
			SOPClassUID:    "1.2.840.10008.5.1.4.1.1.1.2", // Digital Mammography X-Ray, for presentation
			FindSCUPath:    "findscu",
			MoveSCUPath:    "movescu",
			Timeout:        Duration(10 * time.Minute),
		},
		Store: StoreConfig{
			Table:        "dicom_metadata",
			SSLMode:      "prefer",
			QueryTimeout: Duration(30 * time.Second),
		},
		Window: WindowConfig{
			LookbackDays: 6,
		},
		Retrieval: RetrievalConfig{
			MaxAttempts: 1,
			Backoff:     Duration(5 * time.Second),
			MaxBackoff:  Duration(1 * time.Minute),
		},
		Journal: JournalConfig{
			Path: "data/studysync.db",
		},
		Metrics: MetricsConfig{
			Job: "studysync",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file.
// A missing file is not an error unless mustExist is set.
func loadYAMLFile(cfg *Config, path string, mustExist bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return nil
		}
		return &Error{Key: path, Message: "cannot read config file", Err: err}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &Error{Key: path, Message: "cannot parse config file", Err: err}
	}

	return nil
}

// loadDotEnv populates the process environment from a .env file if present.
// Variables already set in the environment win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &Error{Key: path, Message: "cannot read env file", Err: err}
	}
	if err := godotenv.Load(path); err != nil {
		return &Error{Key: path, Message: "cannot parse env file", Err: err}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values; malformed numbers and
// durations are configuration errors.
func applyEnvOverrides(cfg *Config) error {
	var err error

	// Archive (variable names shared with the deployment's cron environment)
	if v := os.Getenv("PACS_IP"); v != "" {
		cfg.Archive.Host = v
	}
	if cfg.Archive.Port, err = envInt("PACS_PORT", cfg.Archive.Port); err != nil {
		return err
	}
	if v := os.Getenv("PACS_AE_TITLE"); v != "" {
		cfg.Archive.AETitle = v
	}
	if v := os.Getenv("STUDYSYNC_CALLING_AE_TITLE"); v != "" {
		cfg.Archive.CallingAETitle = v
	}
	if v := os.Getenv("STUDYSYNC_MOVE_DESTINATION"); v != "" {
		cfg.Archive.MoveDestination = v
	}
	if cfg.Archive.ReceivePort, err = envInt("STUDYSYNC_RECEIVE_PORT", cfg.Archive.ReceivePort); err != nil {
		return err
	}
	if v := os.Getenv("STUDYSYNC_OUTPUT_DIR"); v != "" {
		cfg.Archive.OutputDir = v
	}
	if v := os.Getenv("STUDYSYNC_FINDSCU_PATH"); v != "" {
		cfg.Archive.FindSCUPath = v
	}
	if v := os.Getenv("STUDYSYNC_MOVESCU_PATH"); v != "" {
		cfg.Archive.MoveSCUPath = v
	}
	if cfg.Archive.Timeout, err = envDuration("STUDYSYNC_ARCHIVE_TIMEOUT", cfg.Archive.Timeout); err != nil {
		return err
	}

	// Store
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Store.Host = v
	}
	if cfg.Store.Port, err = envInt("DB_PORT", cfg.Store.Port); err != nil {
		return err
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Store.User = v
	}
	if v := os.Getenv("DB_PASS"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Store.Database = v
	}
	if v := os.Getenv("STUDYSYNC_TABLE"); v != "" {
		cfg.Store.Table = v
	}
	if v := os.Getenv("STUDYSYNC_DB_SSLMODE"); v != "" {
		cfg.Store.SSLMode = v
	}

	// Window
	if cfg.Window.LookbackDays, err = envInt("STUDYSYNC_LOOKBACK_DAYS", cfg.Window.LookbackDays); err != nil {
		return err
	}

	// Retrieval
	if cfg.Retrieval.MaxAttempts, err = envInt("STUDYSYNC_MAX_ATTEMPTS", cfg.Retrieval.MaxAttempts); err != nil {
		return err
	}
	if cfg.Retrieval.Backoff, err = envDuration("STUDYSYNC_RETRY_BACKOFF", cfg.Retrieval.Backoff); err != nil {
		return err
	}
	if cfg.Retrieval.MinInterval, err = envDuration("STUDYSYNC_MIN_INTERVAL", cfg.Retrieval.MinInterval); err != nil {
		return err
	}

	// Journal
	if v, ok := os.LookupEnv("STUDYSYNC_JOURNAL_PATH"); ok {
		cfg.Journal.Path = v
	}

	// Metrics
	if v := os.Getenv("STUDYSYNC_PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}

	// Log
	if v := os.Getenv("STUDYSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STUDYSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STUDYSYNC_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	return nil
}

func envInt(key string, current int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return current, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return current, &Error{Key: key, Message: "is not a valid integer", Err: err}
	}
	return n, nil
}

func envDuration(key string, current Duration) (Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return current, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return current, &Error{Key: key, Message: "is not a valid duration", Err: err}
	}
	return Duration(d), nil
}

// validate checks that required configuration values are set and well-formed.
func (c *Config) validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"PACS_IP", c.Archive.Host},
		{"PACS_AE_TITLE", c.Archive.AETitle},
		{"DB_HOST", c.Store.Host},
		{"DB_USER", c.Store.User},
		{"DB_PASS", c.Store.Password},
		{"DB_NAME", c.Store.Database},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &Error{Key: r.key, Message: "is required"}
		}
	}

	if err := validatePort("PACS_PORT", c.Archive.Port, true); err != nil {
		return err
	}
	if err := validatePort("DB_PORT", c.Store.Port, true); err != nil {
		return err
	}
	if err := validatePort("STUDYSYNC_RECEIVE_PORT", c.Archive.ReceivePort, false); err != nil {
		return err
	}
	if len(c.Archive.AETitle) > 16 || len(c.Archive.CallingAETitle) > 16 {
		return &Error{Key: "PACS_AE_TITLE", Message: "AE titles are limited to 16 characters"}
	}
	if strings.TrimSpace(c.Store.Table) == "" {
		return &Error{Key: "STUDYSYNC_TABLE", Message: "is required"}
	}

	if c.Window.LookbackDays < 0 {
		return &Error{Key: "STUDYSYNC_LOOKBACK_DAYS", Message: "must not be negative"}
	}
	if c.Retrieval.MaxAttempts < 1 {
		return &Error{Key: "STUDYSYNC_MAX_ATTEMPTS", Message: "must be at least 1"}
	}
	if c.Retrieval.MaxAttempts > 1 && c.Retrieval.Backoff <= 0 {
		return &Error{Key: "STUDYSYNC_RETRY_BACKOFF", Message: "must be positive when retries are enabled"}
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return &Error{Key: "STUDYSYNC_LOG_FORMAT", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}

	return nil
}

func validatePort(key string, port int, required bool) error {
	if port == 0 && required {
		return &Error{Key: key, Message: "is required"}
	}
	if port < 0 || port > 65535 {
		return &Error{Key: key, Message: fmt.Sprintf("port %d out of range", port)}
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
