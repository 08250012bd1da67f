package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	MetricsSource MetricsSourceConfig `mapstructure:"metrics_source"`
	Sweep         SweepConfig         `mapstructure:"sweep"`
	Dispatch      DispatchConfig      `mapstructure:"dispatch"`
	Broadcast     BroadcastConfig     `mapstructure:"broadcast"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Admin         AdminConfig         `mapstructure:"admin"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type StorageConfig struct {
	// Driver is postgres or memory.
	Driver string `mapstructure:"driver"`
}

type MetricsSourceConfig struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	EntitiesTable    string `mapstructure:"entities_table"`
	CompetitorsTable string `mapstructure:"competitors_table"`
	PointsTable      string `mapstructure:"points_table"`
}

type SweepConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	RuleDelay       time.Duration `mapstructure:"rule_delay"`
	EvalTimeout     time.Duration `mapstructure:"eval_timeout"`
	SuppressPending bool          `mapstructure:"suppress_pending"`
}

type DispatchConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	EntryDelay   time.Duration `mapstructure:"entry_delay"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	ClaimTTL     time.Duration `mapstructure:"claim_ttl"`
	RequeueEvery time.Duration `mapstructure:"requeue_interval"`
}

type BroadcastConfig struct {
	// Transport is nats, kafka, webhook or none.
	Transport string   `mapstructure:"transport"`
	Operators []string `mapstructure:"operators"`

	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`

	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	WebhookURL string `mapstructure:"webhook_url"`

	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type RulesConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

type AdminConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads defaults, then the optional YAML file at path, then ALERTD_*
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ALERTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("metrics_source.type", "postgres")
	v.SetDefault("metrics_source.host", "localhost")
	v.SetDefault("metrics_source.port", 0)
	v.SetDefault("metrics_source.user", "")
	v.SetDefault("metrics_source.password", "")
	v.SetDefault("metrics_source.database", "")
	v.SetDefault("metrics_source.sslmode", "disable")
	v.SetDefault("metrics_source.entities_table", "")
	v.SetDefault("metrics_source.competitors_table", "")
	v.SetDefault("metrics_source.points_table", "")

	v.SetDefault("sweep.interval", time.Hour)
	v.SetDefault("sweep.rule_delay", 500*time.Millisecond)
	v.SetDefault("sweep.eval_timeout", 30*time.Second)
	v.SetDefault("sweep.suppress_pending", true)

	v.SetDefault("dispatch.interval", 5*time.Minute)
	v.SetDefault("dispatch.batch_size", 10)
	v.SetDefault("dispatch.entry_delay", 200*time.Millisecond)
	v.SetDefault("dispatch.send_timeout", 10*time.Second)
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.base_backoff", time.Minute)
	v.SetDefault("dispatch.max_backoff", time.Hour)
	v.SetDefault("dispatch.claim_ttl", 15*time.Minute)
	v.SetDefault("dispatch.requeue_interval", 5*time.Minute)

	v.SetDefault("broadcast.transport", "none")
	v.SetDefault("broadcast.operators", []string{})
	v.SetDefault("broadcast.nats_url", "nats://localhost:4222")
	v.SetDefault("broadcast.subject_prefix", "alerts.broadcast")
	v.SetDefault("broadcast.kafka_brokers", []string{})
	v.SetDefault("broadcast.kafka_topic", "alerts.broadcast")
	v.SetDefault("broadcast.webhook_url", "")
	v.SetDefault("broadcast.breaker_failures", 5)
	v.SetDefault("broadcast.breaker_timeout", 30*time.Second)

	v.SetDefault("rules.file", "")
	v.SetDefault("rules.watch", true)

	v.SetDefault("admin.addr", ":8090")
	v.SetDefault("admin.shutdown_timeout", 10*time.Second)
}

func (c *Config) validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			errs = append(errs, errors.New("database.url is required when storage.driver is postgres"))
		}
	case "memory":
		if strings.TrimSpace(c.Rules.File) == "" {
			errs = append(errs, errors.New("rules.file is required when storage.driver is memory"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}

	switch strings.ToLower(c.MetricsSource.Type) {
	case "postgres", "postgresql", "mysql", "mssql", "sqlserver":
	default:
		errs = append(errs, fmt.Errorf("metrics_source.type %q is not supported", c.MetricsSource.Type))
	}

	if c.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("sweep.interval must be positive"))
	}
	if c.Sweep.RuleDelay < 0 {
		errs = append(errs, errors.New("sweep.rule_delay must not be negative"))
	}
	if c.Dispatch.Interval <= 0 {
		errs = append(errs, errors.New("dispatch.interval must be positive"))
	}
	if c.Dispatch.RequeueEvery <= 0 {
		errs = append(errs, errors.New("dispatch.requeue_interval must be positive"))
	}
	if c.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("dispatch.batch_size must be positive"))
	}
	if c.Dispatch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("dispatch.max_attempts must be positive"))
	}
	if c.Dispatch.MaxBackoff < c.Dispatch.BaseBackoff {
		errs = append(errs, errors.New("dispatch.max_backoff must not be below dispatch.base_backoff"))
	}

	switch c.Broadcast.Transport {
	case "none", "":
	case "nats":
		if c.Broadcast.NATSURL == "" {
			errs = append(errs, errors.New("broadcast.nats_url is required for the nats transport"))
		}
	case "kafka":
		if len(c.Broadcast.KafkaBrokers) == 0 || c.Broadcast.KafkaTopic == "" {
			errs = append(errs, errors.New("broadcast.kafka_brokers and broadcast.kafka_topic are required for the kafka transport"))
		}
	case "webhook":
		if c.Broadcast.WebhookURL == "" {
			errs = append(errs, errors.New("broadcast.webhook_url is required for the webhook transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("broadcast.transport %q is not supported", c.Broadcast.Transport))
	}
	if c.Broadcast.Transport != "none" && c.Broadcast.Transport != "" && len(c.Broadcast.Operators) == 0 {
		errs = append(errs, errors.New("broadcast.operators must list at least one operator"))
	}
	return errors.Join(errs...)
}
