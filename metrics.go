package passlink

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Redemption results recorded on passlink_redemptions_total
const (
	ResultSuccess = "success"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Metrics counts token and session activity. A nil *Metrics records nothing.
type Metrics struct {
	TokensIssued       *prometheus.CounterVec
	Redemptions        *prometheus.CounterVec
	CooldownRejections *prometheus.CounterVec
	EmailFailures      *prometheus.CounterVec
	SessionsCreated    prometheus.Counter
}

// NewMetrics creates the counters and registers them on reg (if not nil)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passlink_tokens_issued_total",
			Help: "Signed tokens issued, by purpose.",
		}, []string{"purpose"}),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passlink_redemptions_total",
			Help: "Token redemptions, by purpose and result.",
		}, []string{"purpose", "result"}),
		CooldownRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passlink_cooldown_rejections_total",
			Help: "Requests rejected because a cooldown was active.",
		}, []string{"purpose"}),
		EmailFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passlink_email_failures_total",
			Help: "Emails that could not be delivered.",
		}, []string{"purpose"}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passlink_sessions_created_total",
			Help: "Sessions created.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.TokensIssued, m.Redemptions, m.CooldownRejections, m.EmailFailures, m.SessionsCreated)
	}
	return m
}

func (m *Metrics) tokenIssued(purpose Purpose) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(string(purpose)).Inc()
}

func (m *Metrics) redeemed(purpose Purpose, result string) {
	if m == nil {
		return
	}
	m.Redemptions.WithLabelValues(string(purpose), result).Inc()
}

func (m *Metrics) cooldownRejected(purpose Purpose) {
	if m == nil {
		return
	}
	m.CooldownRejections.WithLabelValues(string(purpose)).Inc()
}

func (m *Metrics) emailFailed(purpose Purpose) {
	if m == nil {
		return
	}
	m.EmailFailures.WithLabelValues(string(purpose)).Inc()
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}
