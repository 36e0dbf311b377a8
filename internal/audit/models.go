package audit

import "time"

// Event is an immutable, append-only audit record.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit writes are best-effort; money flows never block on them.
//
// Postgres: table audit_events, INSERT only.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event, empty for gateway traffic.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	// Targets (optional, depending on Type).
	UserID          string `json:"user_id,omitempty" db:"user_id"`
	TransactionCode string `json:"transaction_code,omitempty" db:"transaction_code"`
	OrderID         string `json:"order_id,omitempty" db:"order_id"`
	RefundID        string `json:"refund_id,omitempty" db:"refund_id"`
	Gateway         string `json:"gateway,omitempty" db:"gateway"`

	Message string `json:"message" db:"message"`
	// Metadata is optional JSON (JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminAction        EventType = "admin_action"
	EventTypeAmountMismatch     EventType = "amount_mismatch"
	EventTypeVerificationFailed EventType = "verification_failed"
	EventTypeRefundDecision     EventType = "refund_decision"
)

// AdminAction describes a privileged manual operation.
type AdminAction struct {
	ActorUserID     string
	ActorRole       string
	IPAddress       string
	Message         string
	TransactionCode string
	OrderID         string
	RefundID        string
}
