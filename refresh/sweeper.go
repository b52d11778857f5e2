package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig controls background removal of expired records.
type SweeperConfig struct {
	Interval time.Duration
	// Grace keeps expired records around for reuse detection before deletion.
	Grace time.Duration
	Batch int
}

// Sweeper periodically deletes expired records from a Registry.
type Sweeper struct {
	reg    Registry
	cfg    SweeperConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper returns a stopped sweeper. Zero config fields take defaults.
func NewSweeper(reg Registry, cfg SweeperConfig, logger *slog.Logger, now func() time.Time) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{reg: reg, cfg: cfg, logger: logger, now: now}
}

// RunOnce sweeps until a batch comes back short and returns the number deleted.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.Grace)
	total := 0
	for {
		n, err := s.reg.Sweep(ctx, cutoff, s.cfg.Batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.cfg.Batch {
			return total, nil
		}
	}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Warn("refresh sweep failed", slog.Int("deleted", n), slog.Any("error", err))
				continue
			}
			if n > 0 {
				s.logger.Debug("refresh sweep", slog.Int("deleted", n))
			}
		}
	}
}
