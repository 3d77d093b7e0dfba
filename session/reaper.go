package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/moyoez/eventmedia/types"
)

var errSkip = errors.New("session no longer idle")

// ReapIdle expires every session idle for at least idle. It works on a
// snapshot and re-checks each session under its own lock before acting.
func (m *Manager) ReapIdle(ctx context.Context, idle time.Duration) int {
	sessions, err := m.store.List(ctx)
	if err != nil {
		m.logger.Errorf("[Reaper] failed to list sessions: %v", err)
		return 0
	}
	now := m.now()
	expired := 0
	for _, s := range sessions {
		if s.Status == types.SessionCompleting || s.Status.IsTerminal() {
			continue
		}
		if now.Sub(s.LastActivity) < idle {
			continue
		}
		_, err := m.store.Update(ctx, s.ID, func(cur *types.UploadSession) error {
			if cur.Status == types.SessionCompleting || cur.Status.IsTerminal() || now.Sub(cur.LastActivity) < idle {
				return errSkip
			}
			cur.Status = types.SessionExpired
			return nil
		})
		if err != nil {
			// completed, cancelled or touched since the snapshot
			continue
		}
		_ = m.store.Delete(ctx, s.ID)
		m.purge(s.ID)
		expired++
		m.logger.Infof("[Reaper] expired %s (%s), idle since %s", s.ID, s.OriginalName, s.LastActivity.Format(time.DateTime))
	}
	return expired
}

// Reaper is the handle of a running expiry loop.
type Reaper struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartReaper runs ReapIdle every interval until Stop is called.
func (m *Manager) StartReaper(interval, idle time.Duration) *Reaper {
	r := &Reaper{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.logger.Infof("[Reaper] started: interval %s, idle timeout %s", interval, idle)
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				m.ReapIdle(context.Background(), idle)
			}
		}
	}()
	return r
}

// Stop ends the loop and waits for a sweep in progress to finish. Safe to call twice.
func (r *Reaper) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}
