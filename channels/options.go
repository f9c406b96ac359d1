package channels

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/baxromumarov/fiberworks"
)

type config struct {
	logger *zap.Logger
}

// Option configures a channel.
type Option func(*config)

func buildConfig(opts []Option) config {
	cfg := config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger sets the logger used for recovered handler panics and dropped
// deliveries. A nil logger is replaced by zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	}
}

type subConfig struct {
	filter    any
	deliverOn fiberworks.Fiber
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subConfig)

func buildSubConfig(opts []SubscribeOption) subConfig {
	var cfg subConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithFilter drops messages for which pred returns false before they are
// enqueued or buffered. The type parameter must match the channel's.
func WithFilter[T any](pred func(T) bool) SubscribeOption {
	if pred == nil {
		panic("channels: WithFilter requires a non-nil predicate")
	}
	return func(c *subConfig) {
		c.filter = pred
	}
}

// DeliverOn makes a delivery filter hand its flushed result to f instead of
// running it on the fiber that accumulates messages. Plain subscriptions
// ignore it.
func DeliverOn(f fiberworks.Fiber) SubscribeOption {
	if f == nil {
		panic("channels: DeliverOn requires a non-nil fiber")
	}
	return func(c *subConfig) {
		c.deliverOn = f
	}
}

func filterOf[T any](c subConfig) func(T) bool {
	if c.filter == nil {
		return nil
	}
	pred, ok := c.filter.(func(T) bool)
	if !ok {
		var zero T
		panic(fmt.Sprintf("channels: WithFilter predicate %T does not accept %T", c.filter, zero))
	}
	return pred
}
