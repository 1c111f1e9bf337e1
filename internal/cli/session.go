package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/durable-go/durable"
	"github.com/dshills/durable-go/durable/emit"
	"github.com/dshills/durable-go/internal/config"
)

const shutdownTimeout = 5 * time.Second

// session is everything one command invocation opens: the store, the engine
// and its observers. Close releases them in reverse order.
type session struct {
	cfg      config.Config
	store    config.Backend
	engine   *durable.Engine
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *durable.PrometheusMetrics

	closers []func(context.Context) error
}

func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	st, err := cfg.OpenStore()
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open step store", err)
	}

	s := &session{
		cfg:      cfg,
		store:    st,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	s.closers = append(s.closers, func(context.Context) error { return st.Close() })
	s.metrics = durable.NewPrometheusMetrics(s.registry)

	emitters := []emit.Emitter{emit.NewSlogEmitter(logger)}
	if opts.Verbose {
		emitters = append(emitters, emit.NewLogEmitter(cmd.ErrOrStderr(), opts.Format == "json"))
	}
	if cfg.Trace {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(newSpanLogExporter(logger)))
		s.closers = append(s.closers, tp.Shutdown)
		emitters = append(emitters, emit.NewOTelEmitter(tp.Tracer("durable")))
	}

	if cfg.MetricsAddr != "" {
		if err := s.serveMetrics(cfg.MetricsAddr); err != nil {
			_ = s.Close()
			return nil, WrapExitError(ExitFailure, "failed to serve metrics", err)
		}
	}

	engineOpts, err := cfg.EngineOptions()
	if err != nil {
		_ = s.Close()
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	engineOpts = append(engineOpts,
		durable.WithEmitter(emit.Multi(emitters...)),
		durable.WithLogger(logger),
		durable.WithMetrics(s.metrics),
	)

	s.engine, err = durable.New(st, engineOpts...)
	if err != nil {
		_ = s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	return s, nil
}

func (s *session) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	s.closers = append(s.closers, srv.Shutdown)
	return nil
}

// Close releases the session's resources, newest first.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// closeAndLog is Close for deferred use: the error is logged, not returned.
func (s *session) closeAndLog() {
	if err := s.Close(); err != nil {
		s.logger.Error("failed to release resources", slog.String("error", err.Error()))
	}
}
