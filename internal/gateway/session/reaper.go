package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ReapIdle deletes sessions idle for longer than the configured TTL and returns how
// many were removed. It does nothing when no TTL is configured.
func (m *Manager) ReapIdle(ctx context.Context) int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)

	var idle []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	reaped := 0
	for _, id := range idle {
		if m.deleteIfIdle(ctx, id, cutoff) {
			reaped++
		}
	}
	if reaped > 0 {
		log.Ctx(ctx).Info().Int("count", reaped).Dur("idle_ttl", m.idleTTL).Msg("reaped idle sessions")
	}
	return reaped
}

// deleteIfIdle re-checks activity under the table lock so a session touched after
// the scan survives.
func (m *Manager) deleteIfIdle(ctx context.Context, id string, cutoff time.Time) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	removed := ok && s.LastActive().Before(cutoff) && m.removeLocked(id)
	m.mu.Unlock()

	if removed {
		m.deleted(ctx, id)
	}
	return removed
}

// StartReaper runs ReapIdle every interval until ctx is done.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	if m.idleTTL <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ReapIdle(ctx)
			}
		}
	}()
}
