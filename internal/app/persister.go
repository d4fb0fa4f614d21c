package app

import (
	"context"
	"fmt"
	"time"

	"mathquest/internal/domain"
	"mathquest/internal/session"
)

// Snapshot persistence runs off the session hot path: mutations mark the
// session dirty, a debounce timer coalesces bursts, and a single persister
// goroutine writes with bounded retry. A slow or failing store never stalls
// question progression; the in-memory session stays authoritative until the
// next successful write.

const (
	persistAttempts  = 3
	persistBaseDelay = 100 * time.Millisecond
)

// markDirty stores the latest snapshot and arms the debounce timer. Called
// from the session run loop, so it must stay non-blocking.
func (m *Manager) markDirty(mg *managed, snap session.Snapshot) {
	mg.dirtyMu.Lock()
	defer mg.dirtyMu.Unlock()
	mg.latest = &snap
	if mg.timer == nil {
		mg.timer = time.AfterFunc(m.cfg.SnapshotDebounce, func() { m.flushDirty(mg) })
	}
	if snap.Instance.Status == domain.InstanceCompleted && !mg.retired {
		mg.retired = true
		m.scheduleRetire(snap.Instance)
	}
}

// flushDirty hands the coalesced snapshot to the persister.
func (m *Manager) flushDirty(mg *managed) {
	mg.dirtyMu.Lock()
	snap := mg.latest
	mg.latest = nil
	mg.timer = nil
	mg.dirtyMu.Unlock()
	if snap == nil {
		return
	}
	select {
	case m.snapshots <- *snap:
	case <-m.done:
	default:
		// Queue full: drop and let the next mutation re-arm the debounce.
		m.logger.Warn("snapshot queue full, dropping", "session", snap.Instance.ID)
	}
}

func (m *Manager) persistLoop() {
	defer m.wg.Done()
	for {
		select {
		case snap := <-m.snapshots:
			m.saveSnapshot(context.Background(), snap)
		case <-m.done:
			// Drain what is already queued before teardown.
			for {
				select {
				case snap := <-m.snapshots:
					m.saveSnapshot(context.Background(), snap)
				default:
					return
				}
			}
		}
	}
}

// saveSnapshot writes one snapshot with bounded backoff. Failures are logged
// and abandoned: durability catches up on the next debounce tick.
func (m *Manager) saveSnapshot(ctx context.Context, snap session.Snapshot) {
	err := withRetry(func() error {
		if err := m.store.SaveGameInstance(ctx, snap.Instance); err != nil {
			return fmt.Errorf("save instance: %w", err)
		}
		for _, p := range snap.Participants {
			if err := m.store.SaveParticipant(ctx, p); err != nil {
				return fmt.Errorf("save participant %s: %w", p.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("snapshot persistence failed", "session", snap.Instance.ID, "err", err)
	}
}

func withRetry(fn func() error) error {
	delay := persistBaseDelay
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

// flush writes the session's current state synchronously; used on shutdown
// and retirement so no accepted answer older than the debounce window is
// lost on a clean exit.
func (m *Manager) flush(ctx context.Context, mg *managed) error {
	mg.dirtyMu.Lock()
	if mg.timer != nil {
		mg.timer.Stop()
		mg.timer = nil
	}
	mg.latest = nil
	mg.dirtyMu.Unlock()

	snap, err := mg.sess.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := m.store.SaveGameInstance(ctx, snap.Instance); err != nil {
		return fmt.Errorf("flush instance: %w", err)
	}
	for _, p := range snap.Participants {
		if err := m.store.SaveParticipant(ctx, p); err != nil {
			return fmt.Errorf("flush participant %s: %w", p.ID, err)
		}
	}
	return nil
}

// scheduleRetire tears the session down once its deferred window (if any)
// has elapsed, with a final synchronous flush first.
func (m *Manager) scheduleRetire(instance domain.GameInstance) {
	delay := time.Second
	if !instance.DeferredTo.IsZero() {
		if until := instance.DeferredTo.Sub(m.clock()); until > delay {
			delay = until + time.Second
		}
	}
	id, code := instance.ID, instance.AccessCode
	time.AfterFunc(delay, func() {
		select {
		case <-m.done:
			return
		default:
		}

		m.mu.Lock()
		mg, ok := m.byID[id]
		if ok {
			delete(m.byID, id)
			delete(m.byCode, code)
		}
		m.mu.Unlock()
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.flush(ctx, mg); err != nil {
			m.logger.Error("final flush failed", "session", id, "err", err)
		}
		mg.sess.Stop()
		if m.codes != nil {
			if err := m.codes.Unbind(ctx, code); err != nil {
				m.logger.Warn("access code unbind failed", "code", code, "err", err)
			}
		}
		m.logger.Info("session retired", "session", id, "code", code)
	})
}
