package cache

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// DefaultVerifySchedule runs the verification sweep every ten minutes.
const DefaultVerifySchedule = "@every 10m"

// Verify re-reads every blob and drops entries whose file is missing or whose
// content no longer matches the recorded hash. It returns the number dropped.
func (c *Cache) Verify(ctx context.Context) int {
	dropped := 0
	for _, e := range c.Entries() {
		if ctx.Err() != nil {
			break
		}
		if _, err := readVerified(e); err != nil {
			c.log.Warn().Err(err).Str("model", e.ModelID).Msg("verify: dropping cache entry")
			c.invalidateIf(ctx, e.ModelID, e.CacheKey)
			dropped++
		}
	}
	if dropped > 0 {
		c.log.Info().Str("event", "cache_verify").Int("dropped", dropped).Msg("cache verification finished")
	}
	return dropped
}

// Sweeper runs Verify on a cron schedule.
type Sweeper struct {
	c    *cron.Cron
	stop context.CancelFunc
}

// StartSweeper schedules Verify. An empty spec uses DefaultVerifySchedule.
func (c *Cache) StartSweeper(spec string) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultVerifySchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	cr := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := cr.AddFunc(spec, func() { c.Verify(ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("cache verify schedule %q: %w", spec, err)
	}
	cr.Start()
	return &Sweeper{c: cr, stop: cancel}, nil
}

// Stop cancels a running sweep and waits for it to return.
func (s *Sweeper) Stop() {
	if s == nil {
		return
	}
	s.stop()
	<-s.c.Stop().Done()
}
