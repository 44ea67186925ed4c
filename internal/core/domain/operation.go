package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type OpType string

const (
	OpUpdateQuantity   OpType = "update-quantity"
	OpUpdateThreshold  OpType = "update-threshold"
	OpUpdateItemFields OpType = "update-item-fields"
)

type OpStatus string

const (
	OpStatusPending    OpStatus = "pending"
	OpStatusProcessing OpStatus = "processing"
	OpStatusCompleted  OpStatus = "completed"
	OpStatusFailed     OpStatus = "failed"
)

// PendingOperation is a mutation accepted while the store was unreachable.
// Owned exclusively by the offline queue; everything else only enqueues.
type PendingOperation struct {
	OpID        string          `json:"op_id"`
	Type        OpType          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	NextRetryAt time.Time       `json:"next_retry_at"`
	Status      OpStatus        `json:"status"`
}

type QuantityPayload struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type ThresholdPayload struct {
	ItemID       string `json:"item_id"`
	MinThreshold int    `json:"min_threshold"`
}

type ItemFieldsPayload struct {
	ItemID string            `json:"item_id"`
	Fields map[string]string `json:"fields"`
}

// ValidationError rejects a malformed payload before it is queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ValidateOperation checks type and payload shape. Runs at enqueue time so
// garbage never reaches the durable queue.
func ValidateOperation(typ OpType, payload json.RawMessage) error {
	switch typ {
	case OpUpdateQuantity:
		var p QuantityPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return &ValidationError{Field: "payload", Reason: "malformed quantity payload"}
		}
		if p.ItemID == "" {
			return &ValidationError{Field: "item_id", Reason: "required"}
		}
	case OpUpdateThreshold:
		var p ThresholdPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return &ValidationError{Field: "payload", Reason: "malformed threshold payload"}
		}
		if p.ItemID == "" {
			return &ValidationError{Field: "item_id", Reason: "required"}
		}
		if p.MinThreshold < 0 {
			return &ValidationError{Field: "min_threshold", Reason: "must be >= 0"}
		}
	case OpUpdateItemFields:
		var p ItemFieldsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return &ValidationError{Field: "payload", Reason: "malformed item fields payload"}
		}
		if p.ItemID == "" {
			return &ValidationError{Field: "item_id", Reason: "required"}
		}
		if len(p.Fields) == 0 {
			return &ValidationError{Field: "fields", Reason: "empty"}
		}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown operation type %q", typ)}
	}
	return nil
}
