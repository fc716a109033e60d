// Package metrics defines and registers the custom Prometheus metrics of the
// identity service. It is the single source of truth for metric names,
// labels, and help strings.
//
// The metrics register with the default registry on package init; HTTP
// request metrics come from echoprometheus in the router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "identity"

// ── Authentication metrics ───────────────────────────────────────────────────

// LoginAttemptsTotal counts login attempts.
// Label:
//   - result: "success", "invalid_credentials", "unverified" or "error"
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts, by result.",
	},
	[]string{"result"},
)

// RefreshAttemptsTotal counts refresh token rotations.
// Label:
//   - result: "success", "invalid", "reuse" or "error"
var RefreshAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_attempts_total",
		Help:      "Total number of refresh token rotations, by result.",
	},
	[]string{"result"},
)

// RefreshReuseDetectedTotal counts replays of an already rotated refresh token.
var RefreshReuseDetectedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_reuse_detected_total",
		Help:      "Total number of refresh token reuse detections.",
	},
)

// SessionsRevokedTotal counts revoked sessions.
// Label:
//   - reason: "logout", "logout_all", "reuse_detected", "password_reset", ...
var SessionsRevokedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_revoked_total",
		Help:      "Total number of sessions revoked, by reason.",
	},
	[]string{"reason"},
)

// ── Notification metrics ─────────────────────────────────────────────────────

// MailDeliveredTotal counts notification delivery attempts.
// Labels:
//   - kind: "verify_email" or "password_reset"
//   - result: "ok" or "failed"
var MailDeliveredTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mail_delivered_total",
		Help:      "Total number of notification deliveries, by kind and result.",
	},
	[]string{"kind", "result"},
)

// MailDroppedTotal counts notifications dropped because the queue was full.
var MailDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mail_dropped_total",
		Help:      "Total number of notifications dropped on a full queue, by kind.",
	},
	[]string{"kind"},
)

// RegisterQueueDepth exposes the number of pending notifications as
// identity_mail_queue_depth. Call it once at startup.
func RegisterQueueDepth(pending func() int) prometheus.GaugeFunc {
	return promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mail_queue_depth",
			Help:      "Current number of notifications pending in the dispatcher.",
		},
		func() float64 { return float64(pending()) },
	)
}

// Recorder feeds the metrics above from the service and the mail dispatcher.
type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (Recorder) LoginAttempt(result string) {
	LoginAttemptsTotal.WithLabelValues(result).Inc()
}

func (Recorder) RefreshAttempt(result string) {
	RefreshAttemptsTotal.WithLabelValues(result).Inc()
}

func (Recorder) ReuseDetected() {
	RefreshReuseDetectedTotal.Inc()
}

func (Recorder) SessionsRevoked(reason string, n int64) {
	if n <= 0 {
		return
	}
	SessionsRevokedTotal.WithLabelValues(reason).Add(float64(n))
}

func (Recorder) MailDropped(kind string) {
	MailDroppedTotal.WithLabelValues(kind).Inc()
}

func (Recorder) MailDelivered(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	MailDeliveredTotal.WithLabelValues(kind, result).Inc()
}
