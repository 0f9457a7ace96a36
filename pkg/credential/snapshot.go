package credential

import "time"

// CredentialStatus is the diagnostics view of one credential. It never carries
// the full token.
type CredentialStatus struct {
	Index               int        `json:"index"`
	Masked              string     `json:"masked"`
	Healthy             bool       `json:"healthy"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
	CreditBalance       *float64   `json:"credit_balance,omitempty"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
	Probation           bool       `json:"probation,omitempty"`
}

type Snapshot struct {
	Total       int                `json:"total"`
	Healthy     int                `json:"healthy"`
	Credentials []CredentialStatus `json:"credentials"`
}

// Snapshot returns a point-in-time copy of every credential's health.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	events := t.syncAllLocked()
	now := t.nowFunc()
	out := Snapshot{
		Total:       len(t.entries),
		Credentials: make([]CredentialStatus, 0, len(t.entries)),
	}
	for _, e := range t.entries {
		st := t.healthLocked(e)
		cs := CredentialStatus{
			Index:               st.Index,
			Healthy:             st.Healthy,
			ConsecutiveFailures: st.ConsecutiveFailures,
			Probation:           st.Probation,
		}
		if c, ok := t.pool.Get(st.Index); ok {
			cs.Masked = c.Masked()
		}
		if !st.LastCheckedAt.IsZero() {
			ts := st.LastCheckedAt
			cs.LastCheckedAt = &ts
		}
		if st.CreditBalance != nil {
			v := *st.CreditBalance
			cs.CreditBalance = &v
		}
		if st.InCooldown(now) {
			ts := st.CooldownUntil
			cs.CooldownUntil = &ts
		}
		if st.Healthy {
			out.Healthy++
		}
		out.Credentials = append(out.Credentials, cs)
	}
	t.mu.Unlock()

	t.emit(events, out.Healthy)
	return out
}
