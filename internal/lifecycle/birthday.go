package lifecycle

import (
	"github.com/robfig/cron/v3"

	"github.com/r3e-network/agent-core/internal/domain"
)

// SetBirthdayHook installs the externally supplied birthday-notification
// hook invoked once per agent whose birthday falls on the current date.
func (m *Manager) SetBirthdayHook(hook func(agentID, orgID string, age int)) {
	m.birthdayHook = hook
}

// StartBirthdayScheduler registers an hourly, idempotent-per-day birthday
// tick on cronRunner. It does not start cronRunner; the caller does.
func (m *Manager) StartBirthdayScheduler(cronRunner *cron.Cron) error {
	_, err := cronRunner.AddFunc("@hourly", m.birthdayTick)
	return err
}

// birthdayTick is idempotent per calendar date: a second tick the same day
// is a no-op.
func (m *Manager) birthdayTick() {
	now := m.now()
	today := now.Format("2006-01-02")

	m.dirtyMu.Lock()
	if m.lastBirthdayDate == today {
		m.dirtyMu.Unlock()
		return
	}
	m.lastBirthdayDate = today
	m.dirtyMu.Unlock()

	month, day := now.Month(), now.Day()

	m.forEachAgent(func(e *agentEntry) {
		dob := e.agent.Config.Identity.DateOfBirth
		if dob == nil || dob.Month() != month || dob.Day() != day {
			return
		}
		age := now.Year() - dob.Year()
		agentID, orgID := e.agent.ID, e.agent.OrgID

		m.emit(agentID, orgID, domain.EventBirthday, map[string]interface{}{"age": age})
		if m.birthdayHook != nil {
			m.birthdayHook(agentID, orgID, age)
		}
	})
}
