package main

import (
	"fmt"
	"os"
	"path/filepath"

	linsta "github.com/Bhupesh-S/Linsta-sub003"
)

// resolveToken returns the session credential, preferring the environment.
func resolveToken(cfg *Config) string {
	if v := os.Getenv("LINSTA_TOKEN"); v != "" {
		return v
	}
	return cfg.Auth.Token
}

// resolveBaseURL returns the backend base URL, preferring the environment.
func resolveBaseURL(cfg *Config) string {
	if v := os.Getenv("LINSTA_BASE_URL"); v != "" {
		return v
	}
	return cfg.Default.BaseURL
}

// getSession builds a session from the stored credential, backed by
// file-based snapshot storage under ~/.linsta/cache.
func getSession() *linsta.Session {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	token := resolveToken(cfg)
	if token == "" {
		fmt.Fprintln(os.Stderr, "No session token. Run 'linsta login <token>' first.")
		os.Exit(1)
	}

	opts := []linsta.SessionOption{}
	if base := resolveBaseURL(cfg); base != "" {
		opts = append(opts, linsta.WithClientOptions(linsta.WithBaseURL(base)))
	}
	if dir, err := configDir(); err == nil {
		if storage, err := linsta.NewFileStorage(filepath.Join(dir, "cache")); err == nil {
			opts = append(opts, linsta.WithStorage(storage))
		}
	}

	session, err := linsta.NewSession(token, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid session token: %v\n", err)
		os.Exit(1)
	}
	return session
}
