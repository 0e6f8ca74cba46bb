package pinnedsync

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/christophcemper/pinnedsync/internal/sys"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvConfigFile    = "PINNEDSYNC_CONFIG"
	EnvWarnAfter     = "PINNEDSYNC_WARN_AFTER"
	EnvMaxReaders    = "PINNEDSYNC_MAX_READERS"
	EnvDetectReentry = "PINNEDSYNC_DETECT_REENTRY"
	EnvLogLevel      = "PINNEDSYNC_LOG_LEVEL"
)

// Config holds the process-wide settings. Every primitive takes a snapshot
// of it when initialized; later changes only affect primitives initialized
// afterwards.
type Config struct {
	// WarnAfter is the wait or hold time after which a named primitive logs
	// a warning. Zero disables the warnings.
	WarnAfter time.Duration

	// MaxReaders bounds the read guards an RWLock hands out at once. Values
	// outside (0, backend limit] mean the backend limit.
	MaxReaders int64

	// DetectReentry makes a goroutine that locks a primitive it already
	// holds panic with ErrDeadlock instead of hanging. It costs a goroutine
	// id lookup per acquisition.
	DetectReentry bool

	LogLevel zerolog.Level
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		WarnAfter:  time.Second,
		MaxReaders: sys.MaxReaders,
		LogLevel:   zerolog.WarnLevel,
	}
}

// fileConfig is the YAML shape of Config. Durations are strings so that
// they go through ParseDuration.
type fileConfig struct {
	WarnAfter     string `yaml:"warn_after"`
	MaxReaders    int64  `yaml:"max_readers"`
	DetectReentry *bool  `yaml:"detect_reentry"`
	LogLevel      string `yaml:"log_level"`
}

// LoadConfigFile reads a YAML config file and applies it over base.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, xerrors.Errorf("failed to read config: %v", err)
	}

	var fc fileConfig
	err = yaml.UnmarshalStrict(data, &fc)
	if err != nil {
		return base, xerrors.Errorf("failed to decode config %s: %v", path, err)
	}

	cfg := base

	if fc.WarnAfter != "" {
		cfg.WarnAfter, err = ParseDuration(fc.WarnAfter)
		if err != nil {
			return base, xerrors.Errorf("warn_after: %v", err)
		}
	}

	if fc.MaxReaders != 0 {
		cfg.MaxReaders = fc.MaxReaders
	}

	if fc.DetectReentry != nil {
		cfg.DetectReentry = *fc.DetectReentry
	}

	if fc.LogLevel != "" {
		cfg.LogLevel, err = zerolog.ParseLevel(fc.LogLevel)
		if err != nil {
			return base, xerrors.Errorf("log_level: %v", err)
		}
	}

	return cfg, nil
}

// ConfigFromEnv builds a config from the defaults, the file named by
// PINNEDSYNC_CONFIG if any, and the PINNEDSYNC_* variables, in that order.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	var err error

	path := os.Getenv(EnvConfigFile)
	if path != "" {
		cfg, err = LoadConfigFile(path, cfg)
		if err != nil {
			return DefaultConfig(), err
		}
	}

	cfg.WarnAfter = GetDurationEnvOrDefault(EnvWarnAfter, cfg.WarnAfter)

	if v := os.Getenv(EnvMaxReaders); v != "" {
		cfg.MaxReaders, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return DefaultConfig(), xerrors.Errorf("%s: %v", EnvMaxReaders, err)
		}
	}

	if v := os.Getenv(EnvDetectReentry); v != "" {
		cfg.DetectReentry, err = strconv.ParseBool(v)
		if err != nil {
			return DefaultConfig(), xerrors.Errorf("%s: %v", EnvDetectReentry, err)
		}
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel, err = zerolog.ParseLevel(v)
		if err != nil {
			return DefaultConfig(), xerrors.Errorf("%s: %v", EnvLogLevel, err)
		}
	}

	return cfg, nil
}

var (
	current  atomic.Pointer[Config]
	loadOnce sync.Once
)

// CurrentConfig returns the active config. The first call without a prior
// SetConfig loads it from the environment.
func CurrentConfig() Config {
	loadOnce.Do(func() {
		if current.Load() != nil {
			return
		}

		cfg, err := ConfigFromEnv()
		if err != nil {
			Logger().Warn().Err(err).Msg("invalid configuration, using defaults")
		}

		applyLogLevel(cfg.LogLevel)
		current.CompareAndSwap(nil, &cfg)
	})

	return *current.Load()
}

// SetConfig replaces the active config.
func SetConfig(cfg Config) {
	applyLogLevel(cfg.LogLevel)
	current.Store(&cfg)
	loadOnce.Do(func() {})
}

func applyLogLevel(lvl zerolog.Level) {
	SetLogger(Logger().Level(lvl))
}

// maxReaders clamps the configured reader limit to the backend's.
func (c Config) maxReaders() int64 {
	if c.MaxReaders <= 0 || c.MaxReaders > sys.MaxReaders {
		return sys.MaxReaders
	}

	return c.MaxReaders
}

// ParseDuration is time.ParseDuration with an extra "d" unit of 24 hours.
// Units can be mixed freely, as in "1d12h" or "4m1.25d". A leading sign
// applies to the whole duration.
func ParseDuration(s string) (time.Duration, error) {
	orig := s

	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}

	if s == "" {
		return 0, xerrors.Errorf("invalid duration %q", orig)
	}

	var total time.Duration

	for s != "" {
		i := strings.IndexFunc(s, func(r rune) bool {
			return r != '.' && (r < '0' || r > '9')
		})
		if i == 0 {
			return 0, xerrors.Errorf("invalid duration %q", orig)
		}
		if i < 0 {
			i = len(s)
		}

		num := s[:i]
		s = s[i:]

		j := strings.IndexFunc(s, func(r rune) bool {
			return r == '.' || (r >= '0' && r <= '9')
		})
		if j < 0 {
			j = len(s)
		}

		unit := s[:j]
		s = s[j:]

		if unit == "d" {
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, xerrors.Errorf("invalid duration %q: %v", orig, err)
			}

			total += time.Duration(f * float64(24*time.Hour))

			continue
		}

		d, err := time.ParseDuration(num + unit)
		if err != nil {
			return 0, xerrors.Errorf("invalid duration %q: %v", orig, err)
		}

		total += d
	}

	if neg {
		total = -total
	}

	return total, nil
}

// GetDurationEnvOrDefault parses the environment variable key with
// ParseDuration and returns def when it is unset or invalid.
func GetDurationEnvOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	d, err := ParseDuration(v)
	if err != nil {
		Logger().Warn().Err(err).Str("key", key).Msg("ignoring invalid duration")
		return def
	}

	return d
}
