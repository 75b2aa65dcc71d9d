// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Scan     ScanConfig     `mapstructure:"scan"`
	Input    InputConfig    `mapstructure:"input"`
	Index    IndexConfig    `mapstructure:"index"`
	Output   OutputConfig   `mapstructure:"output"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Server   ServerConfig   `mapstructure:"server"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ScanConfig tunes the engine.
type ScanConfig struct {
	Workers           int   `mapstructure:"workers"`
	ReportEvery       int64 `mapstructure:"report_every"`
	MaxFailureSamples int   `mapstructure:"max_failure_samples"`
}

// Input kinds.
const (
	InputShard = "shard"
	InputIndex = "index"
)

// InputConfig locates shard input.
type InputConfig struct {
	Root       string   `mapstructure:"root"`
	Kind       string   `mapstructure:"kind"`
	Extensions []string `mapstructure:"extensions"`
}

// Index backends.
const (
	IndexJSONL    = "jsonl"
	IndexPostgres = "postgres"
)

// IndexConfig selects the document index of index scans.
type IndexConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Table   string `mapstructure:"table"`
}

// OutputConfig selects where job results go.
type OutputConfig struct {
	Target string `mapstructure:"target"`
}

// JobsConfig carries job options.
type JobsConfig struct {
	MinColumns     int      `mapstructure:"min_columns"`
	HeaderedOnly   bool     `mapstructure:"headered_only"`
	DomainSuffixes []string `mapstructure:"domain_suffixes"`
	StoreDocuments bool     `mapstructure:"store_documents"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// Progress persists run history to scan_runs/scan_units.
	Progress bool `mapstructure:"progress"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// AWSConfig holds S3 output settings.
type AWSConfig struct {
	Region     string `mapstructure:"region"`
	S3PartSize int64  `mapstructure:"s3_part_size"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	Log            bool          `mapstructure:"log"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls run spans.
type TracingConfig struct {
	// Exporter is "none" or "stdout".
	Exporter   string  `mapstructure:"exporter"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"workers":      "scan.workers",
	"report-every": "scan.report_every",
	"output":       "output.target",
	"dev":          "logging.development",
	"backend":      "index.backend",
	"ext":          "input.extensions",
}

// Load builds a Config from disk, environment and flags. Flags that were not
// set on the command line do not override lower layers.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TABLESCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scan.workers", 4)
	v.SetDefault("scan.report_every", 10000)
	v.SetDefault("scan.max_failure_samples", 100)
	v.SetDefault("input.kind", InputShard)
	v.SetDefault("input.extensions", []string{".gz"})
	v.SetDefault("index.backend", IndexJSONL)
	v.SetDefault("index.table", "documents")
	v.SetDefault("jobs.min_columns", 8)
	v.SetDefault("jobs.headered_only", false)
	v.SetDefault("jobs.domain_suffixes", []string{".com", ".net", ".org", ".uk"})
	v.SetDefault("jobs.store_documents", false)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.progress", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", time.Second)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
	v.SetDefault("progress.log", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scan.Workers <= 0 {
		return fmt.Errorf("scan.workers must be > 0")
	}
	if c.Scan.ReportEvery <= 0 {
		return fmt.Errorf("scan.report_every must be > 0")
	}
	switch c.Input.Kind {
	case InputShard, InputIndex:
	default:
		return fmt.Errorf("input.kind must be %q or %q", InputShard, InputIndex)
	}
	switch c.Index.Backend {
	case IndexJSONL:
	case IndexPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres index backend")
		}
	default:
		return fmt.Errorf("index.backend must be %q or %q", IndexJSONL, IndexPostgres)
	}
	if c.Jobs.StoreDocuments && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when jobs.store_documents is set")
	}
	if c.DB.Progress && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.progress is set")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic is set")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\" or \"stdout\"")
	}
	if c.Jobs.MinColumns < 0 {
		return fmt.Errorf("jobs.min_columns must be >= 0")
	}
	return nil
}
