// Package outcome describes the per-item result of best-effort side effects
// (calendar mirroring, notification delivery) so callers can inspect them
// instead of relying on log output.
package outcome

// Kind tags an Outcome.
type Kind string

const (
	KindOK                 Kind = "ok"
	KindCalendarSkipped    Kind = "calendar_skipped"
	KindCalendarSyncFailed Kind = "calendar_sync_failed"
	KindDeliveryFailed     Kind = "delivery_failed"
)

// Outcome is a tagged result with an optional reason.
type Outcome struct {
	Kind   Kind   `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// OK returns a successful outcome.
func OK() Outcome { return Outcome{Kind: KindOK} }

// CalendarSkipped marks calendar mirroring that was not attempted, e.g. no connected calendar.
func CalendarSkipped(reason string) Outcome {
	return Outcome{Kind: KindCalendarSkipped, Reason: reason}
}

// CalendarSyncFailed marks calendar mirroring that was attempted and failed, fully or partially.
func CalendarSyncFailed(reason string) Outcome {
	return Outcome{Kind: KindCalendarSyncFailed, Reason: reason}
}

// DeliveryFailed marks a notification that was not delivered.
func DeliveryFailed(reason string) Outcome {
	return Outcome{Kind: KindDeliveryFailed, Reason: reason}
}

// IsOK reports whether the outcome is a success.
func (o Outcome) IsOK() bool { return o.Kind == KindOK }
