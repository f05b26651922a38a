package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/credit"
	"github.com/xraph/credit/api"
	audithook "github.com/xraph/credit/audit_hook"
	"github.com/xraph/credit/label"
	"github.com/xraph/credit/observability"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, nil)
		},
	}
}

// serve runs the API until ctx is cancelled. When ready is non-nil the
// bound listener address is sent on it once the server accepts requests.
func (a *app) serve(ctx context.Context, ready chan<- string) error {
	auth, err := api.NewAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.cfg.Auth.AdminRole)
	if err != nil {
		return err
	}

	plugins := []credit.Option{
		credit.WithPlugin(audithook.New(audithook.RecorderFunc(a.recordAudit), audithook.WithLogger(a.logger))),
	}
	var registry *prometheus.Registry
	if a.cfg.Server.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		factory := observability.NewPrometheusFactory(registry)
		plugins = append(plugins, credit.WithPlugin(observability.NewMetricsExtension(factory)))
	}

	l, err := a.openLedger(ctx, plugins...)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Stop(); err != nil {
			a.logger.Warn("ledger stop failed", "error", err)
		}
	}()

	wfOpts := []label.Option{label.WithLogger(a.logger)}
	for _, cc := range a.cfg.Carriers {
		wfOpts = append(wfOpts, label.WithCarrier(cc.Name, label.NewHTTPCarrier(cc.URL, cc.Timeout)))
	}
	wf := label.NewWorkflow(l, wfOpts...)

	apiOpts := []api.Option{
		api.WithLogger(a.logger),
		api.WithAllowedOrigins(a.cfg.Server.AllowedOrigins...),
	}
	if registry != nil {
		apiOpts = append(apiOpts, api.WithMetrics(registry))
	}

	srv := &http.Server{
		Handler:           api.NewServer(l, wf, auth, apiOpts...).Handler(),
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening",
			"addr", ln.Addr().String(),
			"store", a.cfg.Store.Driver,
			"carriers", wf.Carriers(),
		)
		if ready != nil {
			ready <- ln.Addr().String()
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// recordAudit writes audit events to the process log.
func (a *app) recordAudit(ctx context.Context, e *audithook.AuditEvent) error {
	a.logger.InfoContext(ctx, "audit",
		"action", e.Action,
		"resource", e.Resource,
		"resource_id", e.ResourceID,
		"actor", e.Actor,
		"outcome", e.Outcome,
		"severity", e.Severity,
		"metadata", e.Metadata,
	)
	return nil
}
