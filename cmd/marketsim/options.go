package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/mini-market/internal/engine"
	"github.com/talgya/mini-market/internal/world"
)

const (
	modeBatch = "batch"
	modeLive  = "live"
	modeZones = "zones"

	layoutDefault   = "default"
	layoutGenerated = "generated"
)

// options is the command configuration read from the environment.
type options struct {
	Config engine.Config

	Mode         string
	Layout       string
	MatrixPath   string
	DBPath       string
	EventLogPath string
	CSVPath      string
	Port         int
	AdminKey     string
	Interval     time.Duration
}

func loadOptions() (options, error) {
	opts := options{
		Mode:         envOrDefault("MARKETSIM_MODE", modeBatch),
		Layout:       envOrDefault("MARKETSIM_LAYOUT", layoutDefault),
		MatrixPath:   os.Getenv("MARKETSIM_MATRIX"),
		DBPath:       os.Getenv("MARKETSIM_DB"),
		EventLogPath: os.Getenv("MARKETSIM_EVENTLOG"),
		CSVPath:      os.Getenv("MARKETSIM_CSV"),
		AdminKey:     os.Getenv("MARKETSIM_ADMIN_KEY"),
	}

	switch opts.Mode {
	case modeBatch, modeZones:
		opts.Config = engine.DefaultConfig()
		opts.Port = envIntOrDefault("MARKETSIM_PORT", 0)
	case modeLive:
		opts.Config = engine.LiveConfig()
		opts.Port = envIntOrDefault("MARKETSIM_PORT", 8080)
	default:
		return opts, fmt.Errorf("unknown MARKETSIM_MODE %q (want batch, live or zones)", opts.Mode)
	}

	cfg := &opts.Config
	var err error
	if cfg.Seed, err = envInt64("MARKETSIM_SEED", cfg.Seed); err != nil {
		return opts, err
	}
	if cfg.ArrivalRate, err = envFloat("MARKETSIM_RATE", cfg.ArrivalRate); err != nil {
		return opts, err
	}
	cfg.Ticks = envIntOrDefault("MARKETSIM_TICKS", cfg.Ticks)
	cfg.DwellTicks = envIntOrDefault("MARKETSIM_DWELL", cfg.DwellTicks)
	if cfg.Moves, err = world.MoveSet(os.Getenv("MARKETSIM_MOVES")); err != nil {
		return opts, err
	}
	opts.Interval = time.Duration(envIntOrDefault("MARKETSIM_INTERVAL_MS", 1000)) * time.Millisecond

	return opts, cfg.Validate()
}

// newLogger builds the process logger from a format (text or json) and a
// level name.
func newLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
