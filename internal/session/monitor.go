package session

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// runConnectivityMonitor checks every bound player on a fixed interval until
// ctx is cancelled. A failed pass is followed by the longer backoff.
func (m *Manager) runConnectivityMonitor(ctx context.Context) {
	defer m.wg.Done()

	m.logger.Info("connectivity monitor started", "interval", m.opts.ConnectivityInterval)
	defer m.logger.Info("connectivity monitor stopped")

	for {
		wait := m.opts.ConnectivityInterval
		if err := m.checkConnectivity(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("connectivity check failed", "error", err)
			wait = m.opts.ConnectivityBackoff
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// checkConnectivity runs one pass: a status query per player and, for each
// that fails, a single reconnection probe. It reports CONNECTED when every
// player answered and CONNECTING otherwise.
func (m *Manager) checkConnectivity(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during connectivity check: %v", r)
		}
	}()

	if !m.IsReady() {
		return nil
	}
	adapters := m.snapshotAdapters()
	if len(adapters) == 0 {
		return nil
	}

	up := make([]bool, len(adapters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.ConnectivityWorkers)

	for i, a := range adapters {
		i, a := i, a
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic checking %s: %v", a.DeviceID(), r)
				}
			}()

			client := a.Client()
			if _, ok := client.Status(gctx); ok {
				up[i] = true
				return nil
			}

			m.logger.Warn("connection lost, attempting reconnection", "device_id", a.DeviceID())
			if m.probe(gctx, client) {
				m.logger.Info("reconnection successful", "device_id", a.DeviceID())
			} else {
				m.logger.Error("reconnection failed", "device_id", a.DeviceID())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	allUp := true
	for _, ok := range up {
		allUp = allUp && ok
	}

	if allUp {
		m.markHealth(PhaseReady)
		if m.DeviceState() != Connected {
			m.reportState(ctx, Connected)
		}
		return nil
	}
	m.markHealth(PhaseDegraded)
	m.reportState(ctx, Connecting)
	return nil
}

// markHealth moves between Ready and Degraded. It leaves the phase alone
// while a rebuild is in progress or nothing is bound.
func (m *Manager) markHealth(phase Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready && (m.phase == PhaseReady || m.phase == PhaseDegraded) {
		m.phase = phase
	}
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
