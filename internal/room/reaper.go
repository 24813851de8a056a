package room

import (
	"context"
	"log/slog"
	"time"
)

const DefaultSweepInterval = 300 * time.Second

// Reaper periodically evicts rooms older than Timeout.
type Reaper struct {
	Rooms    *Registry
	Timeout  time.Duration
	Interval time.Duration
	Now      func() time.Time
	// OnEvict runs for each evicted room after the sweep has released its
	// locks.
	OnEvict func(Evicted)
	Logger  *slog.Logger
}

// Sweep runs one eviction pass and returns the number of rooms removed.
func (r *Reaper) Sweep() int {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	evicted := r.Rooms.Sweep(now(), r.Timeout)
	for _, e := range evicted {
		r.logger().Info("room expired",
			"room_id", e.RoomID,
			"members", len(e.Members),
			"age", e.Age.Round(time.Second),
		)
		if r.OnEvict != nil {
			r.OnEvict(e)
		}
	}
	return len(evicted)
}

// Run sweeps every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger().Debug("room reaper started", "interval", interval, "timeout", r.Timeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger().Info("room sweep finished", "evicted", n, "remaining", r.Rooms.Len())
			}
		}
	}
}

func (r *Reaper) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
