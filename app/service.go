// Package app wires the configuration into a running proxy.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/evproxy/api/proxy"
	"github.com/kilianp07/evproxy/config"
	"github.com/kilianp07/evproxy/core/dispatch"
	"github.com/kilianp07/evproxy/core/events"
	coremon "github.com/kilianp07/evproxy/core/monitoring"
	"github.com/kilianp07/evproxy/core/session"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/vehiclestatus"
	"github.com/kilianp07/evproxy/infra/codec"
	"github.com/kilianp07/evproxy/infra/journal"
	"github.com/kilianp07/evproxy/infra/logger"
	"github.com/kilianp07/evproxy/infra/metrics"
	"github.com/kilianp07/evproxy/infra/monitoring"
	"github.com/kilianp07/evproxy/infra/sinks"
	"github.com/kilianp07/evproxy/internal/eventbus"
)

// Service owns the dispatcher, its HTTP surface and the event consumers.
type Service struct {
	Dispatcher *dispatch.Dispatcher
	Handler    *proxy.Handler
	Codec      *codec.Codec
	Status     *vehiclestatus.MemoryStore

	cfg     *config.Config
	bus     *eventbus.TypedBus[events.Event]
	journal journal.Store
	influx  metrics.EventRecorder
	monitor coremon.Monitor
	log     logger.Logger

	stopConsumers context.CancelFunc
	trackerDone   chan struct{}
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	logg := logger.New("service")

	c, err := codec.New(codec.Options{
		Compression:     codec.Compression(cfg.Codec.Compression),
		MaxPayloadBytes: cfg.Codec.MaxPayloadBytes,
	})
	if err != nil {
		return nil, err
	}

	builder := sink.NewBuilder()
	if err := sinks.Register(builder, sinks.Options{
		ABRPAPIKey:  cfg.Sinks.ABRPAPIKey,
		ABRPURL:     cfg.Sinks.ABRPURL,
		EVNotifyURL: cfg.Sinks.EVNotifyURL,
	}); err != nil {
		return nil, fmt.Errorf("sinks: %w", err)
	}
	reg := session.NewRegistry(builder,
		session.WithLogger(logger.New("session")),
		session.WithDefaults(cfg.Sinks.Defaults))

	var names []string
	if cfg.Metrics.PrometheusEnabled {
		names = append(names, "prometheus")
	}
	rec, err := metrics.NewRecorder(names...)
	if err != nil {
		return nil, fmt.Errorf("metrics recorder: %w", err)
	}

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}

	var store journal.Store
	if cfg.Journal.Path != "" {
		store, err = journal.Open(journal.Config{
			Path:       cfg.Journal.Path,
			Format:     cfg.Journal.Format,
			MaxSizeMB:  cfg.Journal.MaxSizeMB,
			MaxBackups: cfg.Journal.MaxBackups,
			MaxAgeDays: cfg.Journal.MaxAgeDays,
		})
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}

	bus := eventbus.NewTyped[events.Event]()
	disp := dispatch.New(reg,
		dispatch.WithConfig(cfg.Dispatch.Engine()),
		dispatch.WithLogger(logger.New("dispatch")),
		dispatch.WithMetrics(rec),
		dispatch.WithMonitor(mon),
		dispatch.WithBus(bus),
	)

	status := vehiclestatus.NewMemoryStore()
	opts := []proxy.Option{
		proxy.WithSessions(reg),
		proxy.WithStatus(status),
		proxy.WithLogger(logger.New("http")),
	}
	if store != nil {
		opts = append(opts, proxy.WithJournal(store))
	}
	pcfg := proxy.Config{Keys: cfg.Auth.Keys, MaxBodyBytes: cfg.Server.MaxBodyBytes}
	if cfg.Metrics.PrometheusEnabled {
		pcfg.MetricsPath = cfg.Metrics.Path
	}

	s := &Service{
		Dispatcher:  disp,
		Handler:     proxy.New(disp, c, pcfg, opts...),
		Codec:       c,
		Status:      status,
		cfg:         cfg,
		bus:         bus,
		journal:     store,
		monitor:     mon,
		log:         logg,
		trackerDone: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopConsumers = cancel
	t := &tracker{status: status, journal: store, log: logger.New("tracker")}
	go t.run(ctx, bus, bus.Subscribe(), s.trackerDone)
	if i := cfg.Metrics.Influx; i.URL != "" {
		s.influx = metrics.NewInfluxRecorderWithFallback(metrics.InfluxConfig{
			URL: i.URL, Token: i.Token, Org: i.Org, Bucket: i.Bucket,
		})
		metrics.StartEventCollector(ctx, bus, s.influx)
	}
	return s, nil
}

// Listen opens the configured unix socket or TCP address. A stale socket
// file is removed first.
func (s *Service) Listen() (net.Listener, error) {
	if p := s.cfg.Server.SocketPath; p != "" {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		return net.Listen("unix", p)
	}
	return net.Listen("tcp", s.cfg.Server.Listen)
}

// Run listens and serves until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is cancelled, then drains the
// handler, stops the HTTP server and shuts every sink down.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler.Router(),
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout(),
		ReadTimeout:       s.cfg.Server.ReadTimeout(),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Infof("listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Handler.Drain()
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout())
		defer cancel()
		err := srv.Shutdown(sctx)
		if derr := s.Dispatcher.Shutdown(sctx); derr != nil {
			s.log.Warnf("sink shutdown: %v", derr)
		}
		return err
	})
	return g.Wait()
}

// Close stops the event consumers and releases the journal and monitor.
// Serve must have returned.
func (s *Service) Close() error {
	s.stopConsumers()
	<-s.trackerDone
	s.bus.Close()
	if c, ok := s.influx.(*metrics.InfluxRecorder); ok {
		c.Close()
	}
	s.monitor.Flush(2 * time.Second)
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}
