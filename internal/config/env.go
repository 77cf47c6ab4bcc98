package config

import (
	"fmt"
	"strings"
	"time"
)

// Environment variables read by ApplyEnv.
const (
	EnvGitHubToken     = "GITHUB_TOKEN"
	EnvToken           = "RUNWATCH_TOKEN"
	EnvRepos           = "RUNWATCH_REPOS"
	EnvBaseURL         = "RUNWATCH_BASE_URL"
	EnvStore           = "RUNWATCH_STORE"
	EnvStateDir        = "RUNWATCH_STATE_DIR"
	EnvDatabaseURL     = "RUNWATCH_DATABASE_URL"
	EnvPollInterval    = "RUNWATCH_POLL_INTERVAL"
	EnvSafetyDelay     = "RUNWATCH_SAFETY_DELAY"
	EnvOverlap         = "RUNWATCH_OVERLAP"
	EnvDedupeRetention = "RUNWATCH_DEDUPE_RETENTION"
	EnvOpenRunTTL      = "RUNWATCH_OPEN_RUN_TTL"
	EnvRequestTimeout  = "RUNWATCH_REQUEST_TIMEOUT"
	EnvListen          = "RUNWATCH_LISTEN"
	EnvColor           = "RUNWATCH_COLOR"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables on cfg. RUNWATCH_TOKEN wins over
// GITHUB_TOKEN. RUNWATCH_REPOS is a comma-separated list.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str(EnvGitHubToken, &cfg.Token)
	str(EnvToken, &cfg.Token)
	str(EnvBaseURL, &cfg.BaseURL)
	str(EnvStore, &cfg.Store)
	str(EnvStateDir, &cfg.StateDir)
	str(EnvDatabaseURL, &cfg.DatabaseURL)
	str(EnvListen, &cfg.Listen)
	str(EnvColor, &cfg.Color)

	if v, ok := lookup(EnvRepos); ok && v != "" {
		cfg.Repos = SplitList(v)
	}

	for key, dst := range map[string]*time.Duration{
		EnvPollInterval:    &cfg.PollInterval,
		EnvSafetyDelay:     &cfg.SafetyDelay,
		EnvOverlap:         &cfg.Overlap,
		EnvDedupeRetention: &cfg.DedupeRetention,
		EnvOpenRunTTL:      &cfg.OpenRunTTL,
		EnvRequestTimeout:  &cfg.RequestTimeout,
	} {
		if err := dur(key, dst); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	return nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
