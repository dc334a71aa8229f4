package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper drives Manager.SweepExpired on a fixed schedule so that
// challenges nobody touches still reach EXPIRED.
type Sweeper struct {
	mgr      *Manager
	c        *cron.Cron
	interval time.Duration
}

func NewSweeper(mgr *Manager, interval time.Duration) *Sweeper {
	if interval < time.Second {
		interval = 10 * time.Second
	}
	return &Sweeper{
		mgr:      mgr,
		c:        cron.New(cron.WithSeconds(), cron.WithLocation(time.Local)),
		interval: interval,
	}
}

// Start registers the sweep job and begins the schedule. The interval is
// rounded to whole seconds by the cron expression.
func (s *Sweeper) Start() error {
	sec := int(s.interval.Seconds())
	if sec < 1 {
		sec = 10
	}
	spec := fmt.Sprintf("*/%d * * * * *", sec)
	_, err := s.c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.mgr.SweepExpired(ctx)
	})
	if err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	s.c.Start()
	obslog.L().Info("challenge_sweeper_started", zap.String("spec", spec))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.c.Stop()
	<-ctx.Done()
	obslog.L().Info("challenge_sweeper_stopped")
}
