package lifecycle

import "context"

// Shutdown stops the flush timer, cancels every health-check loop, and
// attempts one last best-effort persistence pass for dirty agents. It is
// safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)

		m.healthMu.Lock()
		cancels := make([]func(), 0, len(m.healthStop))
		for id, cancel := range m.healthStop {
			cancels = append(cancels, cancel)
			delete(m.healthStop, id)
		}
		m.healthMu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}

		m.flushSync(ctx)
	})
}
