// Package config loads the settings of the saga and rating-sync runtimes.
//
// Values are resolved with priority environment > file > defaults.
// Environment variables are named COURSESAGA_<SECTION>_<FIELD>.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fortressi/coursesaga"
	"github.com/fortressi/coursesaga/bus"
	"github.com/fortressi/coursesaga/cache"
)

const envPrefix = "COURSESAGA_"

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendFile   = "file"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Cache    CacheConfig    `yaml:"cache"`
	Bus      BusConfig      `yaml:"bus"`
	Journal  JournalConfig  `yaml:"journal"`
	Capacity CapacityConfig `yaml:"capacity"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	// Encoding is "json" or "console".
	Encoding string `yaml:"encoding"`
}

type CacheConfig struct {
	Backend        string        `yaml:"backend"`
	BadgerPath     string        `yaml:"badger_path"`
	AggregateTTL   time.Duration `yaml:"aggregate_ttl"`
	CatalogTTL     time.Duration `yaml:"catalog_ttl"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type BusConfig struct {
	Partitions       int           `yaml:"partitions"`
	QueueSize        int           `yaml:"queue_size"`
	MaxAttempts      uint          `yaml:"max_attempts"`
	MinBackoff       time.Duration `yaml:"min_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	DeadLetterSuffix string        `yaml:"dead_letter_suffix"`
}

type JournalConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

type CapacityConfig struct {
	// Unit is the number of seats one purchase takes.
	Unit int `yaml:"unit"`
}

// Default returns the built-in configuration.
func Default() Config {
	b := bus.DefaultConfig()
	return Config{
		Log: LogConfig{Level: "info", Encoding: "json"},
		Cache: CacheConfig{
			Backend:        BackendMemory,
			AggregateTTL:   10 * time.Minute,
			CatalogTTL:     5 * time.Minute,
			IdempotencyTTL: 24 * time.Hour,
		},
		Bus: BusConfig{
			Partitions:       b.Partitions,
			QueueSize:        b.QueueSize,
			MaxAttempts:      b.MaxAttempts,
			MinBackoff:       b.MinBackoff,
			MaxBackoff:       b.MaxBackoff,
			DeadLetterSuffix: b.DeadLetterSuffix,
		},
		Journal:  JournalConfig{Backend: BackendMemory},
		Capacity: CapacityConfig{Unit: 1},
	}
}

// Load reads path (if not empty and present), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

type lookupFunc func(string) (string, bool)

func loadEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var err error
	parse := func(name string, set func(string) error) {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" || err != nil {
			return
		}
		if perr := set(v); perr != nil {
			err = fmt.Errorf("%s%s: %w", envPrefix, name, perr)
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.Atoi(v)
			return err
		}
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_ENCODING", &cfg.Log.Encoding)
	parse("LOG_DEVELOPMENT", func(v string) (err error) {
		cfg.Log.Development, err = strconv.ParseBool(v)
		return err
	})

	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("CACHE_BADGER_PATH", &cfg.Cache.BadgerPath)
	parse("CACHE_AGGREGATE_TTL", duration(&cfg.Cache.AggregateTTL))
	parse("CACHE_CATALOG_TTL", duration(&cfg.Cache.CatalogTTL))
	parse("CACHE_IDEMPOTENCY_TTL", duration(&cfg.Cache.IdempotencyTTL))

	parse("BUS_PARTITIONS", integer(&cfg.Bus.Partitions))
	parse("BUS_QUEUE_SIZE", integer(&cfg.Bus.QueueSize))
	parse("BUS_MAX_ATTEMPTS", func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		cfg.Bus.MaxAttempts = uint(n)
		return err
	})
	parse("BUS_MIN_BACKOFF", duration(&cfg.Bus.MinBackoff))
	parse("BUS_MAX_BACKOFF", duration(&cfg.Bus.MaxBackoff))
	str("BUS_DEAD_LETTER_SUFFIX", &cfg.Bus.DeadLetterSuffix)

	str("JOURNAL_BACKEND", &cfg.Journal.Backend)
	str("JOURNAL_DIR", &cfg.Journal.Dir)

	parse("CAPACITY_UNIT", integer(&cfg.Capacity.Unit))
	return err
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Log),
		validation.Field(&c.Cache),
		validation.Field(&c.Bus),
		validation.Field(&c.Journal),
		validation.Field(&c.Capacity),
	)
}

func (c LogConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Encoding, validation.In("json", "console")),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendMemory, BackendBadger)),
		validation.Field(&c.BadgerPath, validation.When(c.Backend == BackendBadger, validation.Required)),
		validation.Field(&c.AggregateTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.CatalogTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.IdempotencyTTL, validation.Required, validation.Min(time.Minute)),
	)
}

func (c BusConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Partitions, validation.Required, validation.Min(1)),
		validation.Field(&c.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxAttempts, validation.Required),
		validation.Field(&c.MinBackoff, validation.Required),
		validation.Field(&c.MaxBackoff, validation.Required, validation.Min(c.MinBackoff)),
		validation.Field(&c.DeadLetterSuffix, validation.Required),
	)
}

func (c JournalConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendMemory, BackendFile)),
		validation.Field(&c.Dir, validation.When(c.Backend == BackendFile, validation.Required)),
	)
}

func (c CapacityConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Unit, validation.Required, validation.Min(1)),
	)
}

// Options returns the bus settings.
func (c BusConfig) Options() bus.Config {
	return bus.Config{
		Partitions:       c.Partitions,
		QueueSize:        c.QueueSize,
		MaxAttempts:      c.MaxAttempts,
		MinBackoff:       c.MinBackoff,
		MaxBackoff:       c.MaxBackoff,
		DeadLetterSuffix: c.DeadLetterSuffix,
	}
}

// OpenStore opens the configured cache store. The returned close function
// releases it.
func (c CacheConfig) OpenStore(logger *zap.Logger) (cache.Store, func() error, error) {
	switch c.Backend {
	case BackendBadger:
		s, err := cache.OpenBadger(cache.BadgerConfig{Path: c.BadgerPath, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case BackendMemory, "":
		return cache.NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", c.Backend)
	}
}

// OpenJournal opens the configured saga journal.
func (c JournalConfig) OpenJournal() (coursesaga.Journal, error) {
	switch c.Backend {
	case BackendFile:
		return coursesaga.NewFileJournal(c.Dir)
	case BackendMemory, "":
		return coursesaga.NewMemoryJournal(), nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q", c.Backend)
	}
}
