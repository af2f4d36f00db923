package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification engine. A nil *Metrics
// is valid and records nothing, so services and tests can omit it.
type Metrics struct {
	// Committed audit entries by entity type and action
	AuditEntries *prometheus.CounterVec

	// Closed verification attempts by decision
	AttemptClosures *prometheus.CounterVec

	// Certificates minted on VERIFIED closures
	CertificatesIssued prometheus.Counter

	// Wizard autosave attempts by result ("saved", "failed", "skipped")
	WizardAutosaves *prometheus.CounterVec
}

// New registers all engine metrics with reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AuditEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permitdesk_audit_entries_total",
			Help: "Total audit log entries committed by entity type and action",
		}, []string{"entity_type", "action"}),

		AttemptClosures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permitdesk_verification_closures_total",
			Help: "Total verification attempts closed by decision",
		}, []string{"decision"}),

		CertificatesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "permitdesk_certificates_issued_total",
			Help: "Total verification certificates issued",
		}),

		WizardAutosaves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "permitdesk_wizard_autosaves_total",
			Help: "Wizard draft saves by result",
		}, []string{"result"}),
	}
}

// IncAuditEntry records one committed audit entry.
func (m *Metrics) IncAuditEntry(entityType, action string) {
	if m != nil {
		m.AuditEntries.WithLabelValues(entityType, action).Inc()
	}
}

// IncAttemptClosure records a closed attempt.
func (m *Metrics) IncAttemptClosure(decision string) {
	if m != nil {
		m.AttemptClosures.WithLabelValues(decision).Inc()
	}
}

// IncCertificateIssued records a minted certificate.
func (m *Metrics) IncCertificateIssued() {
	if m != nil {
		m.CertificatesIssued.Inc()
	}
}

// IncWizardAutosave records a wizard save outcome.
func (m *Metrics) IncWizardAutosave(result string) {
	if m != nil {
		m.WizardAutosaves.WithLabelValues(result).Inc()
	}
}
