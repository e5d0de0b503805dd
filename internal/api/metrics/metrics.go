// Package metrics defines and registers all custom Prometheus metrics for the
// MedTrack field gateway. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics register with the default Prometheus registry on package load and
// are served by echoprometheus on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "medtrack"

// ── Session metrics ───────────────────────────────────────────────────────────

// LoginsTotal counts login attempts.
// Label:
//   - result: "success", "invalid_credentials", "network" or "error"
var LoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Total number of login attempts, by result.",
	},
	[]string{"result"},
)

// SessionsInvalidatedTotal counts sessions whose keys were cleared.
// Label:
//   - reason: "logout" or "unauthorized"
var SessionsInvalidatedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_invalidated_total",
		Help:      "Total number of sessions invalidated, by reason.",
	},
	[]string{"reason"},
)

// AuthorizationDenialsTotal counts requests rejected by the capability matrix.
var AuthorizationDenialsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorization_denials_total",
		Help:      "Total number of requests denied by the role-capability matrix.",
	},
	[]string{"role", "resource", "action"},
)

// ── Visit metrics ─────────────────────────────────────────────────────────────

// VisitTransitionsTotal counts lifecycle operations brokered by the gateway.
// Labels:
//   - operation: "start", "end", "cancel", "edit", "delete"
//   - result: "ok", "active_visit_exists", "not_active", "pending", "forbidden" or "error"
var VisitTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "visit_transitions_total",
		Help:      "Total number of visit lifecycle operations, by operation and result.",
	},
	[]string{"operation", "result"},
)

// VisitDuration observes check-in to check-out for visits ended through the gateway.
var VisitDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "visit_duration_seconds",
		Help:      "Duration of completed visits from check-in to check-out.",
		Buckets:   []float64{300, 600, 900, 1800, 2700, 3600, 5400, 7200, 14400},
	},
)

// ── Backend metrics ───────────────────────────────────────────────────────────

// ProxyRequestsTotal counts generic entity calls relayed to the backend.
// Labels:
//   - resource: the entity family, e.g. "doctors"
//   - code: the backend status code, or "error" when no response was relayed
var ProxyRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_requests_total",
		Help:      "Total number of entity requests relayed to the backend.",
	},
	[]string{"resource", "code"},
)

// AuditEventsDroppedTotal counts visit audit events discarded by the dispatcher.
var AuditEventsDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_dropped_total",
		Help:      "Total number of visit audit events dropped before persistence.",
	},
	[]string{"type"},
)
