package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	jwttoken "kycops/internal/jwt_token"
	"kycops/internal/platform/config"
	"kycops/internal/platform/httpserver"
	"kycops/internal/ratelimit"
	"kycops/internal/scheduler"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kycops",
		Short:         "KYC application lifecycle and operational monitoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.AddCommand(newServeCmd(), newCheckCmd(), newReportCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the monitoring scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one threshold evaluation and dispatch any alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), scheduler.JobThresholdCheck)
		},
	}
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Send the daily metrics report now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), scheduler.JobDailySummary)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		email string
		name  string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an administrator bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
			token, err := svc.GenerateAdminToken(email, name, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "administrator email recorded as approver")
	cmd.Flags().StringVar(&name, "name", "", "administrator display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// serve wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func serve(ctx context.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	log := app.logger
	srv := httpserver.New(cfg.Server, app.router)

	workers := startWorkers(app)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.scheduler.Run(gctx) })
	if app.sweeper != nil {
		g.Go(func() error {
			ratelimit.SweepEvery(gctx, app.sweeper, time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		log.Info("starting kycops", "addr", cfg.Server.Addr, "version", version,
			"registry", cfg.Registry.Backend, "alert_channels", app.dispatcher.Channels())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	err = g.Wait()
	workers.drain(cfg.Server.ShutdownTimeout)
	return err
}

// workerPool runs the side-effect queue. Workers outlive the HTTP server so
// in-flight side effects drain; only queue consumers belong here.
type workerPool struct {
	app    *application
	group  errgroup.Group
	cancel context.CancelFunc
}

func startWorkers(app *application) *workerPool {
	ctx, cancel := context.WithCancel(context.Background())
	w := &workerPool{app: app, cancel: cancel}
	w.group.Go(func() error { return app.queue.Run(ctx) })
	return w
}

// drain closes the queue and waits up to timeout for queued tasks. It
// reports whether the queue emptied before the deadline; after the deadline
// the remaining tasks are cancelled.
func (w *workerPool) drain(timeout time.Duration) bool {
	defer w.cancel()
	w.app.queue.Close()
	drained := make(chan struct{})
	go func() {
		_ = w.group.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return true
	case <-time.After(timeout):
		w.app.logger.Warn("side effects still pending at shutdown", "pending", w.app.queue.Len())
		w.cancel()
		<-drained
		return false
	}
}

// runOnce builds the application and runs a single scheduled job.
func runOnce(ctx context.Context, job string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()
	return app.scheduler.RunNow(ctx, job)
}
