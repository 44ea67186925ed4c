package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

const (
	TableStock   = "stock_records"
	TableCatalog = "items"
)

// RowEvent is one row-level change from the push feed. Delivery is
// at-least-once and may reorder; consumers must order by Stock.Version,
// not arrival.
type RowEvent struct {
	Type  EventType
	Table string
	// Stock is set for TableStock events (nil for deletes, which carry
	// only the row id).
	Stock *StockRecord
	// RowID identifies the row for deletes and catalog events.
	RowID string
}

// rowEnvelope is the wire shape published by the store side.
type rowEnvelope struct {
	EventType EventType       `json:"event_type"`
	Table     string          `json:"table"`
	Row       json.RawMessage `json:"row"`
}

type stockRow struct {
	ID           string    `json:"id"`
	ItemID       string    `json:"item_id"`
	Quantity     int       `json:"quantity"`
	MinThreshold int       `json:"min_threshold"`
	Version      int       `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type idRow struct {
	ID string `json:"id"`
}

// ParseRowEvent decodes and validates a feed message. The version contract
// (version >= 1 on stock inserts/updates) is enforced here, at the boundary,
// so nothing downstream ever sees an unstamped row.
func ParseRowEvent(b []byte) (RowEvent, error) {
	var env rowEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return RowEvent{}, &ValidationError{Field: "event", Reason: "malformed envelope"}
	}
	switch env.EventType {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return RowEvent{}, &ValidationError{Field: "event_type", Reason: "unknown"}
	}
	switch env.Table {
	case TableStock:
		if env.EventType == EventDelete {
			var r idRow
			if err := json.Unmarshal(env.Row, &r); err != nil || r.ID == "" {
				return RowEvent{}, &ValidationError{Field: "row", Reason: "delete without row id"}
			}
			return RowEvent{Type: env.EventType, Table: env.Table, RowID: r.ID}, nil
		}
		var r stockRow
		if err := json.Unmarshal(env.Row, &r); err != nil {
			return RowEvent{}, &ValidationError{Field: "row", Reason: "malformed stock row"}
		}
		if r.Version < 1 {
			return RowEvent{}, &ValidationError{Field: "version", Reason: "missing or < 1"}
		}
		if r.ItemID == "" {
			return RowEvent{}, &ValidationError{Field: "item_id", Reason: "required"}
		}
		return RowEvent{
			Type:  env.EventType,
			Table: env.Table,
			RowID: r.ID,
			Stock: &StockRecord{
				ID:           r.ID,
				ItemID:       r.ItemID,
				Quantity:     r.Quantity,
				MinThreshold: r.MinThreshold,
				Version:      r.Version,
				UpdatedAt:    r.UpdatedAt,
			},
		}, nil
	case TableCatalog:
		var r idRow
		if err := json.Unmarshal(env.Row, &r); err != nil {
			return RowEvent{}, &ValidationError{Field: "row", Reason: "malformed catalog row"}
		}
		return RowEvent{Type: env.EventType, Table: env.Table, RowID: r.ID}, nil
	default:
		return RowEvent{}, &ValidationError{Field: "table", Reason: "unknown"}
	}
}

// MarshalRowEvent builds the wire form for publishers (the store adapter and
// tests).
func MarshalRowEvent(typ EventType, table string, rec *StockRecord, rowID string) []byte {
	var row any
	if rec != nil {
		row = stockRow{
			ID:           rec.ID,
			ItemID:       rec.ItemID,
			Quantity:     rec.Quantity,
			MinThreshold: rec.MinThreshold,
			Version:      rec.Version,
			UpdatedAt:    rec.UpdatedAt,
		}
	} else {
		row = idRow{ID: rowID}
	}
	rowB, err := json.Marshal(row)
	if err != nil {
		panic(err)
	}
	b, err := json.Marshal(rowEnvelope{EventType: typ, Table: table, Row: rowB})
	if err != nil {
		panic(err)
	}
	return b
}
