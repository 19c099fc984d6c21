package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/y0f/apiprobe/internal/check"
	"github.com/y0f/apiprobe/internal/config"
	"github.com/y0f/apiprobe/internal/metrics"
	"github.com/y0f/apiprobe/internal/notifier"
	"github.com/y0f/apiprobe/internal/report"
	"github.com/y0f/apiprobe/internal/runner"
	"github.com/y0f/apiprobe/internal/session"
	"github.com/y0f/apiprobe/internal/storage"
	"github.com/y0f/apiprobe/internal/tracing"
	"github.com/y0f/apiprobe/internal/transport"
)

type runOptions struct {
	target    string
	catalogs  []string
	presets   []string
	vars      []string
	format    string
	token     string
	timeout   time.Duration
	noHistory bool
	textfile  string
}

func newRunCmd(a *app) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run catalogs and presets against a target",
		Example: `  apiprobe run --target http://localhost:8080 --preset security-headers --preset cors
  apiprobe run -c apiprobe.yaml --catalog items.yaml --var item_name=widget --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			o.apply(cmd, cfg)
			if err := cfg.RequireTarget(); err != nil {
				return usageError(err)
			}
			if o.format != "text" && o.format != "json" {
				return usageError(fmt.Errorf("--format must be text or json, got %q", o.format))
			}
			return a.run(cmd.Context(), cfg, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.target, "target", "t", "", "base URL of the system under test")
	f.StringSliceVar(&o.catalogs, "catalog", nil, "catalog file (repeatable)")
	f.StringSliceVarP(&o.presets, "preset", "p", nil, "built-in preset name (repeatable)")
	f.StringArrayVar(&o.vars, "var", nil, "catalog variable as key=value (repeatable)")
	f.StringVarP(&o.format, "format", "f", "text", "report format: text or json")
	f.StringVar(&o.token, "token", "", "bearer token for authenticated requests")
	f.DurationVar(&o.timeout, "timeout", 0, "default per-call timeout")
	f.BoolVar(&o.noHistory, "no-history", false, "do not record the run in the database")
	f.StringVar(&o.textfile, "metrics-textfile", "", "write Prometheus metrics to this file")
	return cmd
}

// apply overlays explicitly set flags on the loaded config.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("target") {
		cfg.Target.BaseURL = o.target
	}
	if f.Changed("token") {
		cfg.Target.BearerToken = o.token
		cfg.Target.BasicUser, cfg.Target.BasicPass = "", ""
	}
	if f.Changed("timeout") && o.timeout > 0 {
		cfg.Target.Timeout = o.timeout
	}
	if f.Changed("catalog") {
		cfg.Run.Catalogs = o.catalogs
	}
	if f.Changed("preset") {
		cfg.Run.Presets = o.presets
	}
	if f.Changed("metrics-textfile") {
		cfg.Metrics.Textfile = o.textfile
	}
	if o.noHistory {
		cfg.Database.Enabled = false
	}
}

func (a *app) run(ctx context.Context, cfg *config.Config, o *runOptions) error {
	logger := setupLogger(cfg.Logging, a.stderr)

	shutdown, err := tracing.Setup(ctx, tracing.Options{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		shutdown = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	cat, err := loadCatalog(cfg.Run.Catalogs, cfg.Run.Presets, mergeVars(cfg.Run.Vars, o.vars))
	if err != nil {
		return usageError(err)
	}

	sess, err := session.New(session.Options{
		BaseURL: cfg.Target.BaseURL,
		Credentials: session.Credentials{
			BearerToken: cfg.Target.BearerToken,
			BasicUser:   cfg.Target.BasicUser,
			BasicPass:   cfg.Target.BasicPass,
		},
		Timeout: cfg.Target.Timeout,
		Vars:    cat.Vars(),
	})
	if err != nil {
		return usageError(err)
	}

	client := transport.New(transport.Options{
		InsecureSkipVerify: cfg.Target.InsecureSkipVerify,
		FollowRedirects:    cfg.Target.FollowRedirects,
		BlockPrivate:       cfg.Target.BlockPrivate,
		RateLimitPerSec:    cfg.Target.RateLimitPerSec,
		RateLimitBurst:     cfg.Target.RateLimitBurst,
		UserAgent:          cfg.Target.UserAgent,
		Jar:                sess.Jar(),
		Logger:             logger,
	})

	checks, err := cat.Checks(client)
	if err != nil {
		return usageError(err)
	}

	recorder := metrics.NewRecorder(sess.BaseURL())
	r := runner.New(logger, runner.Options{
		Observers: []runner.Observer{runner.NewProgress(logger), recorder},
	})

	rep, err := r.Run(ctx, checks, sess)
	if err != nil {
		if errors.Is(err, check.ErrConfig) {
			return usageError(err)
		}
		return &exitError{code: exitFail, err: err}
	}

	if o.format == "json" {
		err = report.WriteJSON(a.stdout, rep)
	} else {
		err = report.WriteText(a.stdout, rep)
	}
	if err != nil {
		logger.Error("write report", "error", err)
	}

	a.record(ctx, cfg, rep, logger)

	recorder.ObserveRun(rep)
	if cfg.Metrics.Textfile != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Error("metrics export failed", "error", err)
		}
	}

	if cfg.Notify.WebhookURL != "" {
		when, _ := notifier.ParseWhen(cfg.Notify.On)
		sender := &notifier.WebhookSender{
			URL:       cfg.Notify.WebhookURL,
			Secret:    cfg.Notify.Secret,
			UserAgent: "apiprobe/" + version,
		}
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Notify.Timeout)
		notifier.NewDispatcher(sender, when, logger).Notify(nctx, rep)
		cancel()
	}

	if code := report.ExitCode(rep, cfg.Run.FailOnInconclusive); code != exitPass {
		return &exitError{code: code}
	}
	return nil
}

// record persists the run and applies retention. History failures are
// logged and never change the exit status.
func (a *app) record(ctx context.Context, cfg *config.Config, rep *report.RunReport, logger *slog.Logger) {
	if !cfg.Database.Enabled {
		return
	}
	store, err := storage.NewSQLiteStore(cfg.Database.Path, cfg.Database.MaxReadConns)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer store.Close()

	ctx = context.WithoutCancel(ctx)
	if err := store.SaveRun(ctx, rep); err != nil {
		logger.Error("save run failed", "run_id", rep.ID, "error", err)
		return
	}
	logger.Debug("run saved", "run_id", rep.ID, "path", cfg.Database.Path)
	storage.Purge(ctx, store, cfg.Database.RetentionDays, logger)
}
