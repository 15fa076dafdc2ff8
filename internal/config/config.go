// Package config loads dered's runtime configuration from the process
// environment, using an os.Getenv-with-fallback idiom generalized from
// a handful of ad hoc fields read inline in main() to one typed struct
// with defaults, since dered has substantially more environment-tunable
// knobs than a single dashboard server would.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable setting dered's daemon needs at
// startup. Spec.md §6 names these knobs: database URL, working-directory
// defaults, an optional sandbox container image tag, agent model defaults,
// scheduler tick interval, rare-event cooldown and daily cap.
type Config struct {
	Addr   string // HTTP/WS listen address
	DBPath string // sqlite database path

	WorkDir      string // default working directory for new sessions
	SandboxImage string // default container image for sessions that name none; empty sandboxes only sessions that name one
	AgentCommand string // adapter binary to launch per session
	DefaultModel string

	AnthropicAPIKey string
	AnthropicModel  string

	SchedulerTick     time.Duration
	RareEventCooldown time.Duration
	RareEventDailyCap int

	NATSPort int // 0 lets the OS assign an ephemeral port
}

// Load reads Config from the environment, applying the same defaults a
// fresh install would want.
func Load() (Config, error) {
	cfg := Config{
		Addr:              envOr("DERED_ADDR", ":8080"),
		DBPath:            envOr("DERED_DB_PATH", "dered.db"),
		WorkDir:           envOr("DERED_WORK_DIR", "."),
		SandboxImage:      os.Getenv("DERED_SANDBOX_IMAGE"),
		AgentCommand:      envOr("DERED_AGENT_COMMAND", "claude"),
		DefaultModel:      envOr("DERED_DEFAULT_MODEL", "claude-sonnet-4-5"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:    envOr("DERED_EMOTION_MODEL", "claude-haiku-4-5"),
		SchedulerTick:     60 * time.Second,
		RareEventCooldown: 6 * time.Hour,
		RareEventDailyCap: 3,
		NATSPort:          0,
	}

	if v := os.Getenv("DERED_RARE_EVENT_COOLDOWN_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid DERED_RARE_EVENT_COOLDOWN_SECONDS: %w", err)
		}
		cfg.RareEventCooldown = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("DERED_SCHEDULER_TICK_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid DERED_SCHEDULER_TICK_SECONDS: %w", err)
		}
		cfg.SchedulerTick = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("DERED_RARE_EVENT_DAILY_CAP"); v != "" {
		cap, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid DERED_RARE_EVENT_DAILY_CAP: %w", err)
		}
		cfg.RareEventDailyCap = cap
	}
	if v := os.Getenv("DERED_NATS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid DERED_NATS_PORT: %w", err)
		}
		cfg.NATSPort = port
	}

	if cfg.AnthropicAPIKey == "" {
		return Config{}, fmt.Errorf("config: ANTHROPIC_API_KEY is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
