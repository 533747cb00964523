package metrics

import (
	"context"
	"log/slog"
	"time"

	"transcoder/internal/logging"
)

// StateCounter reports job counts keyed by derived state name.
type StateCounter interface {
	StateCounts(ctx context.Context) (map[string]int, error)
}

// Collector periodically refreshes JobStates from the store.
type Collector struct {
	source   StateCounter
	interval time.Duration
	logger   *slog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// NewCollector creates a collector polling source every interval.
func NewCollector(source StateCounter, interval time.Duration, logger *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Collector{
		source:   source,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the collection loop.
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the loop and waits for it to exit.
func (c *Collector) Stop() {
	close(c.stopChan)
	<-c.done
}

func (c *Collector) collectLoop() {
	defer close(c.done)
	c.Collect(context.Background())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Collect(context.Background())
		case <-c.stopChan:
			return
		}
	}
}

// Collect refreshes the gauges once.
func (c *Collector) Collect(ctx context.Context) {
	if c.source == nil {
		return
	}
	counts, err := c.source.StateCounts(ctx)
	if err != nil {
		c.logger.Warn("job state collection failed", logging.Error(err))
		return
	}
	JobStates.Reset()
	for state, count := range counts {
		JobStates.WithLabelValues(state).Set(float64(count))
	}
}
