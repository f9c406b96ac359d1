package fiberworks

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// StatsSource is anything that reports fiber stats; every fiber kind does.
type StatsSource interface {
	Stats() FiberStats
}

// Collector exports pool and fiber stats as Prometheus metrics. Values are
// read from Stats() at scrape time, so registering a source costs nothing
// on the hot path.
type Collector struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	fibers map[string]StatsSource
	logger *zap.Logger

	fiberEnqueued *prometheus.Desc
	fiberExecuted *prometheus.Desc
	fiberPanics   *prometheus.Desc
	fiberRejected *prometheus.Desc
	fiberDrains   *prometheus.Desc
	fiberDepth    *prometheus.Desc

	poolSubmitted *prometheus.Desc
	poolCompleted *prometheus.Desc
	poolErrored   *prometheus.Desc
	poolRejected  *prometheus.Desc
	poolInFlight  *prometheus.Desc
	poolDepth     *prometheus.Desc
	poolWorkers   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	fiber := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "fiber", name), help, []string{"fiber"}, nil)
	}
	pool := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, []string{"pool"}, nil)
	}
	return &Collector{
		pools:  make(map[string]*Pool),
		fibers: make(map[string]StatsSource),
		logger: logger.With(zap.String("component", "metrics")),

		fiberEnqueued: fiber("enqueued_total", "Actions accepted by the fiber."),
		fiberExecuted: fiber("executed_total", "Actions and continuations run by the fiber."),
		fiberPanics:   fiber("panics_total", "Action panics recovered by the fiber executor."),
		fiberRejected: fiber("rejected_total", "Actions refused because the fiber queue was full."),
		fiberDrains:   fiber("drains_total", "Drain cycles started."),
		fiberDepth:    fiber("queue_depth", "Actions currently pending."),

		poolSubmitted: pool("submitted_total", "Units accepted by the pool."),
		poolCompleted: pool("completed_total", "Units finished by the pool."),
		poolErrored:   pool("errored_total", "Units that panicked past their executor."),
		poolRejected:  pool("rejected_total", "Units refused because the pool queue was full."),
		poolInFlight:  pool("in_flight", "Units currently executing."),
		poolDepth:     pool("queue_depth", "Units waiting in the pool queue."),
		poolWorkers:   pool("workers", "Worker goroutines."),
	}
}

// AddPool registers p under name, replacing any pool of the same name.
func (c *Collector) AddPool(name string, p *Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pools[name]; ok {
		c.logger.Debug("replacing pool", zap.String("pool", name))
	}
	c.pools[name] = p
}

// AddFiber registers f under its stats name and returns a function that
// unregisters it. Wire the result into the fiber's subscriptions to drop
// the series when the fiber is disposed.
func (c *Collector) AddFiber(f StatsSource) (remove func()) {
	name := f.Stats().Name

	c.mu.Lock()
	c.fibers[name] = f
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.fibers[name] == f {
			delete(c.fibers, name)
		}
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.fiberEnqueued, c.fiberExecuted, c.fiberPanics, c.fiberRejected, c.fiberDrains, c.fiberDepth,
		c.poolSubmitted, c.poolCompleted, c.poolErrored, c.poolRejected, c.poolInFlight, c.poolDepth, c.poolWorkers,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, f := range c.fibers {
		s := f.Stats()
		ch <- prometheus.MustNewConstMetric(c.fiberEnqueued, prometheus.CounterValue, float64(s.Enqueued), name)
		ch <- prometheus.MustNewConstMetric(c.fiberExecuted, prometheus.CounterValue, float64(s.Executed), name)
		ch <- prometheus.MustNewConstMetric(c.fiberPanics, prometheus.CounterValue, float64(s.Panics), name)
		ch <- prometheus.MustNewConstMetric(c.fiberRejected, prometheus.CounterValue, float64(s.Rejected), name)
		ch <- prometheus.MustNewConstMetric(c.fiberDrains, prometheus.CounterValue, float64(s.Drains), name)
		ch <- prometheus.MustNewConstMetric(c.fiberDepth, prometheus.GaugeValue, float64(s.Depth), name)
	}
	for name, p := range c.pools {
		s := p.Stats()
		ch <- prometheus.MustNewConstMetric(c.poolSubmitted, prometheus.CounterValue, float64(s.Submitted), name)
		ch <- prometheus.MustNewConstMetric(c.poolCompleted, prometheus.CounterValue, float64(s.Completed), name)
		ch <- prometheus.MustNewConstMetric(c.poolErrored, prometheus.CounterValue, float64(s.Errored), name)
		ch <- prometheus.MustNewConstMetric(c.poolRejected, prometheus.CounterValue, float64(s.Rejected), name)
		ch <- prometheus.MustNewConstMetric(c.poolInFlight, prometheus.GaugeValue, float64(s.InFlight), name)
		ch <- prometheus.MustNewConstMetric(c.poolDepth, prometheus.GaugeValue, float64(s.QueueDepth), name)
		ch <- prometheus.MustNewConstMetric(c.poolWorkers, prometheus.GaugeValue, float64(s.Workers), name)
	}
}
