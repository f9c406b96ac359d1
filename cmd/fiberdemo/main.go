// Command fiberdemo runs a producer/consumer and request/reply workload on
// fiberworks and logs what the fibers and pool did.
//
// Usage:
//
//	fiberdemo [-config demo.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/baxromumarov/fiberworks"
	"github.com/baxromumarov/fiberworks/channels"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fiberdemo:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fiberdemo:", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("demo failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func (c Config) policy() (fiberworks.PanicPolicy, error) {
	for _, p := range []fiberworks.PanicPolicy{fiberworks.LogAndContinue, fiberworks.Ignore, fiberworks.AbortBatch} {
		if p.String() == c.PanicPolicy {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown panic policy %q", c.PanicPolicy)
}

type reading struct {
	Sensor string
	Value  int
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	policy, err := cfg.policy()
	if err != nil {
		return err
	}

	pool := fiberworks.NewPool(ctx, cfg.Workers,
		fiberworks.WithQueueSize(cfg.PoolQueueSize),
		fiberworks.WithPoolLogger(logger),
	)
	defer pool.Close()

	collector := fiberworks.NewCollector("fiberdemo", logger)
	collector.AddPool("main", pool)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	newFiber := func(name string) *fiberworks.PoolFiber {
		f := fiberworks.NewPoolFiber(pool,
			fiberworks.WithName(name),
			fiberworks.WithLogger(logger),
			fiberworks.WithPanicPolicy(policy),
			fiberworks.WithMaxQueueDepth(cfg.FiberQueue),
		)
		f.BeginSubscription().AddFunc(collector.AddFiber(f))
		return f
	}
	consumer := newFiber("consumer")
	client := newFiber("client")
	defer consumer.Dispose()
	defer client.Dispose()

	readings := channels.NewChannel[reading](channels.WithLogger(logger))
	latest := make(map[string]int)
	var delivered atomic.Int64
	channels.SubscribeToKeyedBatch(readings, consumer, func(r reading) string { return r.Sensor }, cfg.BatchInterval,
		func(m map[string]reading) {
			for k, r := range m {
				latest[k] = r.Value
			}
			delivered.Add(int64(len(m)))
		})

	query := channels.NewRequestReplyChannel[string, int](channels.WithLogger(logger))
	// latest is owned by consumer, so the responder runs there too.
	query.AddResponder(consumer, func(req *channels.Request[string, int]) {
		req.SendReply(latest[req.Payload()])
	})

	start := time.Now()
	var wg sync.WaitGroup
	for p := range cfg.Producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sensor := fmt.Sprintf("sensor-%d", p)
			for i := range cfg.Messages {
				if ctx.Err() != nil {
					return
				}
				readings.Publish(reading{Sensor: sensor, Value: i})
			}
		}()
	}
	wg.Wait()
	logger.Info("published", zap.Int("messages", cfg.Producers*cfg.Messages), zap.Duration("took", time.Since(start)))

	// Let the last batch flush before asking for it.
	select {
	case <-time.After(2 * cfg.BatchInterval):
	case <-ctx.Done():
		return ctx.Err()
	}

	for p := range cfg.Producers {
		sensor := fmt.Sprintf("sensor-%d", p)
		box := query.SendRequest(sensor)
		if box == nil {
			return errors.New("no responder for queries")
		}
		replied := make(chan struct{})
		err := box.SetCallbackOnReceive(cfg.RequestTimeout, client, func(v int, ok bool) {
			if ok {
				logger.Info("latest reading", zap.String("sensor", sensor), zap.Int("value", v), zap.Stringer("request", box.ID()))
			} else {
				logger.Warn("query timed out", zap.String("sensor", sensor))
			}
			close(replied)
		})
		if err != nil {
			return err
		}
		select {
		case <-replied:
		case <-ctx.Done():
			return ctx.Err()
		}
		box.Dispose()
	}

	for _, f := range []*fiberworks.PoolFiber{consumer, client} {
		s := f.Stats()
		logger.Info("fiber stats",
			zap.String("fiber", s.Name),
			zap.Int64("enqueued", s.Enqueued),
			zap.Int64("executed", s.Executed),
			zap.Int64("drains", s.Drains),
			zap.Int64("panics", s.Panics),
		)
	}
	ps := pool.Stats()
	logger.Info("pool stats",
		zap.Int64("submitted", ps.Submitted),
		zap.Int64("completed", ps.Completed),
		zap.Int64("rejected", ps.Rejected),
		zap.Int64("keyed_deliveries", delivered.Load()),
	)
	return nil
}
