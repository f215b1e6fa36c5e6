// Package cleanup periodically removes expired passcodes, sessions and
// dedupe markers. Expiry is enforced on read, so the sweeper only bounds
// memory and table growth.
package cleanup

import (
	"context"
	"time"

	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

// SweepFunc removes expired entries and reports how many went.
type SweepFunc func(ctx context.Context) (int, error)

type target struct {
	name  string
	sweep SweepFunc
}

// Sweeper runs its targets on a fixed interval.
type Sweeper struct {
	targets  []target
	interval time.Duration
	logger   *logging.Logger
}

func NewSweeper(interval time.Duration, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{interval: interval, logger: logger}
}

// Add registers a target under name.
func (s *Sweeper) Add(name string, fn SweepFunc) *Sweeper {
	if fn != nil {
		s.targets = append(s.targets, target{name: name, sweep: fn})
	}
	return s
}

// Run sweeps once immediately, then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if len(s.targets) == 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs every target and returns the total removed. A failing
// target does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for _, t := range s.targets {
		n, err := t.sweep(ctx)
		if err != nil {
			s.logger.Error("cleanup sweep failed", "target", t.name, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Info("cleanup sweep removed expired entries", "target", t.name, "removed", n)
		}
		total += n
	}
	return total
}

// PurgeOlderThan adapts a purge-by-cutoff call into a SweepFunc.
func PurgeOlderThan(age time.Duration, now func() time.Time, purge func(ctx context.Context, cutoff time.Time) (int64, error)) SweepFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (int, error) {
		n, err := purge(ctx, now().Add(-age))
		return int(n), err
	}
}
