package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/meet_torture/internal/api"
	"github.com/dgnsrekt/meet_torture/internal/controller"
	"github.com/dgnsrekt/meet_torture/internal/netutil"
)

func newServeCmd() *cobra.Command {
	var fallback bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API over stored diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			h, err := newHarness(cfg)
			if err != nil {
				return err
			}

			bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}, fallback)
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(controller.NewService(h.roster, h.store))}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("status api listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().BoolVar(&fallback, "port-fallback", true, "try nearby ports when the bind address is taken")
	return cmd
}
