// Package config reads ttrace settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/jnesss/ttrace/packet"
	"github.com/jnesss/ttrace/tags"
)

// Environment keys
const (
	KeyDataDir          = "TTRACE_DATA_DIR"
	KeyListenAddr       = "TTRACE_LISTEN_ADDR"
	KeyRingBufPin       = "TTRACE_RINGBUF_PIN"
	KeyRulesDir         = "TTRACE_RULES_DIR"
	KeyPacketLayout     = "TTRACE_PACKET_LAYOUT"
	KeyTags             = "TTRACE_TAGS"
	KeyIdleStackSize    = "TTRACE_IDLE_STACKSIZE"
	KeySchedHaveParent  = "TTRACE_SCHED_HAVE_PARENT"
	KeyTruncateMessages = "TTRACE_TRUNCATE_MESSAGES"
	KeySampleInterval   = "TTRACE_SAMPLE_INTERVAL"
	KeyNameCacheSize    = "TTRACE_NAME_CACHE_SIZE"
)

// Config holds every setting of the ttrace commands
type Config struct {
	DataDir          string
	ListenAddr       string
	RingBufPin       string
	RulesDir         string
	Layout           packet.Layout
	Tags             tags.Mask
	IdleStackSize    int
	SchedHaveParent  bool
	TruncateMessages bool
	SampleInterval   time.Duration
	NameCacheSize    int
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		DataDir:         "data",
		ListenAddr:      ":8080",
		RingBufPin:      "/sys/fs/bpf/ttrace_events",
		RulesDir:        "rules",
		Layout:          packet.LayoutPacked,
		Tags:            tags.TagAll,
		IdleStackSize:   1024,
		SchedHaveParent: true,
		SampleInterval:  5 * time.Second,
		NameCacheSize:   1024,
	}
}

// Codec returns the packet codec for the configured layout.
func (c Config) Codec() packet.Codec {
	return packet.Codec{Layout: c.Layout}
}

// Load reads envFile into the environment, without overriding variables
// that are already set, and then builds the configuration. A missing env
// file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment.
func FromEnv() (Config, error) {
	cfg := Default()
	var err error

	str(KeyDataDir, &cfg.DataDir)
	str(KeyListenAddr, &cfg.ListenAddr)
	str(KeyRingBufPin, &cfg.RingBufPin)
	str(KeyRulesDir, &cfg.RulesDir)

	if v, ok := os.LookupEnv(KeyPacketLayout); ok {
		if cfg.Layout, err = packet.ParseLayout(v); err != nil {
			return Config{}, keyErr(KeyPacketLayout, err)
		}
	}
	if v, ok := os.LookupEnv(KeyTags); ok {
		if cfg.Tags, err = tags.ParseMask(v); err != nil {
			return Config{}, keyErr(KeyTags, err)
		}
	}
	if err := integer(KeyIdleStackSize, &cfg.IdleStackSize); err != nil {
		return Config{}, err
	}
	if err := integer(KeyNameCacheSize, &cfg.NameCacheSize); err != nil {
		return Config{}, err
	}
	if cfg.NameCacheSize == 0 {
		return Config{}, keyErr(KeyNameCacheSize, fmt.Errorf("cache size must be positive"))
	}
	if err := boolean(KeySchedHaveParent, &cfg.SchedHaveParent); err != nil {
		return Config{}, err
	}
	if err := boolean(KeyTruncateMessages, &cfg.TruncateMessages); err != nil {
		return Config{}, err
	}
	if v, ok := os.LookupEnv(KeySampleInterval); ok {
		if cfg.SampleInterval, err = time.ParseDuration(v); err != nil {
			return Config{}, keyErr(KeySampleInterval, err)
		}
		if cfg.SampleInterval <= 0 {
			return Config{}, keyErr(KeySampleInterval, fmt.Errorf("interval must be positive"))
		}
	}

	return cfg, nil
}

func keyErr(key string, err error) error {
	return fmt.Errorf("invalid %s: %w", key, err)
}

func str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func integer(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return keyErr(key, err)
	}
	if n < 0 {
		return keyErr(key, fmt.Errorf("must not be negative"))
	}
	*dst = n
	return nil
}

func boolean(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return keyErr(key, err)
	}
	*dst = b
	return nil
}
