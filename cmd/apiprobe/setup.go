package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/y0f/apiprobe/internal/catalog"
	"github.com/y0f/apiprobe/internal/config"
	"github.com/y0f/apiprobe/internal/storage"
)

// loadConfig reads the config file, or the defaults when none is given,
// and applies the persistent flag overrides.
func (a *app) loadConfig() (*config.Config, error) {
	cfg := config.Defaults()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return nil, usageError(err)
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
		cfg.Database.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// loadCatalog merges catalog files and presets in that order, then applies
// key=value overrides.
func loadCatalog(paths, presets, vars []string) (*catalog.Catalog, error) {
	if len(paths) == 0 && len(presets) == 0 {
		return nil, fmt.Errorf("no catalog or preset given (use --catalog or --preset)")
	}
	var docs []*catalog.Document
	for _, p := range paths {
		doc, err := catalog.LoadFile(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	for _, name := range presets {
		doc, err := catalog.LoadPreset(name)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	cat := catalog.New(docs...)
	for _, kv := range vars {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", kv)
		}
		cat.SetVar(k, v)
	}
	return cat, nil
}

func openStore(cfg *config.Config) (*storage.SQLiteStore, error) {
	if !cfg.Database.Enabled {
		return nil, usageError(fmt.Errorf("run history is disabled (database.enabled is false)"))
	}
	store, err := storage.NewSQLiteStore(cfg.Database.Path, cfg.Database.MaxReadConns)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func mergeVars(file map[string]string, flags []string) []string {
	out := make([]string, 0, len(file)+len(flags))
	for k, v := range file {
		out = append(out, k+"="+v)
	}
	return append(out, flags...)
}
