package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/meet_torture/internal/api"
	"github.com/dgnsrekt/meet_torture/internal/config"
	"github.com/dgnsrekt/meet_torture/internal/controller"
	"github.com/dgnsrekt/meet_torture/internal/notify"
	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/storage"
	"github.com/dgnsrekt/meet_torture/internal/testbase"
)

// errScenariosFailed is returned by run when at least one scenario failed.
var errScenariosFailed = errors.New("scenarios failed")

func newRunCmd() *cobra.Command {
	var withAPI bool
	var only, exclude string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the selected scenarios against the configured deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireInstance(); err != nil {
				return err
			}
			sel := testbase.Selection{Run: cfg.TestsToRun, Exclude: cfg.TestsToExclude}
			if only != "" {
				sel.Run = testbase.ParseList(only)
			}
			if exclude != "" {
				sel.Exclude = append(sel.Exclude, testbase.ParseList(exclude)...)
			}

			h, err := newHarness(cfg)
			if err != nil {
				return err
			}
			return runWithAPI(cmd.Context(), h, sel, withAPI, cmd)
		},
	}
	cmd.Flags().BoolVar(&withAPI, "api", false, "serve the status API while scenarios run")
	cmd.Flags().StringVar(&only, "only", "", "comma separated scenarios to run (overrides TORTURE_TESTS_TO_RUN)")
	cmd.Flags().StringVar(&exclude, "exclude", "", "comma separated scenarios to skip")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, fmt.Errorf("logger setup failed: %w", err)
	}
	slog.Info("torture config loaded",
		"instance", cfg.InstanceURL,
		"tenant", cfg.Tenant,
		"participants_file", cfg.ParticipantsFile,
		"headless", cfg.Headless,
		"flaky_types", cfg.FlakyTypes,
		"diagnostics_dir", cfg.DiagnosticsDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)
	return cfg, nil
}

func runWithAPI(ctx context.Context, h *harness, sel testbase.Selection, withAPI bool, cmd *cobra.Command) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopAPI := context.WithCancel(gctx)
	defer stopAPI()

	if withAPI {
		srv := &http.Server{Addr: h.cfg.BindAddr, Handler: api.NewServer(controller.NewService(h.roster, h.store))}
		g.Go(func() error {
			slog.Info("status api listening", "addr", h.cfg.BindAddr, "docs", "http://"+h.cfg.BindAddr+"/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var results []result
	g.Go(func() error {
		defer stopAPI()
		results = runScenarios(runCtx, scenarios, sel, h.base, h)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	report(ctx, h.cfg, results, cmd)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if len(results) == 0 {
		slog.Warn("no scenarios selected", "available", scenarioNames())
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errScenariosFailed, failed, len(results))
	}
	return ctx.Err()
}

// resultRecord is one line of the results log.
type resultRecord struct {
	Scenario    string    `json:"scenario"`
	Instance    string    `json:"instance"`
	Room        string    `json:"room"`
	Passed      bool      `json:"passed"`
	Error       string    `json:"error,omitempty"`
	Code        string    `json:"code,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	Diagnostics int       `json:"diagnostics"`
	FinishedAt  time.Time `json:"finished_at"`
}

// report prints the results, appends them to the results log and sends the
// run summary when a notification endpoint is configured.
func report(ctx context.Context, cfg *config.Config, results []result, cmd *cobra.Command) {
	w := storage.NewJSONLWriter(filepath.Join(cfg.DiagnosticsDir, "results"), "results", len(results), 10)
	passed := 0
	failed := map[string]error{}
	for _, r := range results {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), r)
		rec := resultRecord{
			Scenario:    r.Name,
			Instance:    cfg.InstanceURL,
			Room:        r.Room,
			Passed:      r.Err == nil,
			DurationMS:  r.Duration.Milliseconds(),
			Diagnostics: r.Diagnostics,
			FinishedAt:  time.Now().UTC(),
		}
		if r.Err != nil {
			rec.Error = r.Err.Error()
			rec.Code = session.CodeOf(r.Err)
			failed[r.Name] = r.Err
		} else {
			passed++
		}
		if err := w.Write(rec); err != nil {
			slog.Warn("result not logged", "scenario", r.Name, "error", err)
		}
	}
	if err := w.Close(); err != nil {
		slog.Warn("closing results log", "error", err)
	}

	if cfg.NotifyURL == "" || len(results) == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	msg := notify.Summary(cfg.InstanceURL, passed, failed)
	if err := notify.Send(nctx, nil, cfg.NotifyURL, msg, len(failed) > 0); err != nil {
		slog.Warn("run summary not sent", "endpoint", cfg.NotifyURL, "error", err)
	}
}
