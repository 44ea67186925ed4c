package domain

import (
	"errors"
	"fmt"
	"time"
)

type OrderState string

const (
	OrderStatePending  OrderState = "pending"
	OrderStateSent     OrderState = "sent"
	OrderStateArchived OrderState = "archived"
)

var ErrInvalidTransition = errors.New("invalid order state transition")

// Transitions are monotonic: pending -> sent -> archived, no reverse,
// no skipping sent.
var validNext = map[OrderState]map[OrderState]bool{
	OrderStatePending:  {OrderStateSent: true},
	OrderStateSent:     {OrderStateArchived: true},
	OrderStateArchived: {},
}

func CanTransition(from, to OrderState) bool {
	return validNext[from][to]
}

type Unit string

const (
	UnitSingle Unit = "unit"
	UnitCase   Unit = "case"
)

// CaseSize is the number of bottles in one case.
const CaseSize = 6

// BaseUnits converts an ordered quantity in this unit to bottles.
func (u Unit) BaseUnits(qty int) int {
	if u == UnitCase {
		return qty * CaseSize
	}
	return qty
}

type OrderLine struct {
	ItemID         string
	Quantity       int
	Unit           Unit
	UnitPriceCents int
	// ReceivedQty is the operator-confirmed quantity once reconciliation
	// begins. Zero value means "not yet confirmed"; the effective received
	// quantity then defaults to Quantity.
	ReceivedQty int
}

// EffectiveReceived returns the quantity to reconcile for this line.
func (l OrderLine) EffectiveReceived() int {
	if l.ReceivedQty > 0 {
		return l.ReceivedQty
	}
	return l.Quantity
}

type Order struct {
	ID          string
	SupplierRef string
	Lines       []OrderLine
	State       OrderState
	Version     int // optimistic locking, same contract as StockRecord
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TotalCents is derived from the lines on every call. It is never stored
// independently of them.
func (o *Order) TotalCents() int {
	total := 0
	for _, l := range o.Lines {
		total += l.Quantity * l.UnitPriceCents
	}
	return total
}

// TotalBaseUnits sums the lines' ordered quantities in bottles.
func (o *Order) TotalBaseUnits() int {
	total := 0
	for _, l := range o.Lines {
		total += l.Unit.BaseUnits(l.Quantity)
	}
	return total
}

// Transition validates and applies a state change.
func (o *Order) Transition(to OrderState) error {
	if !CanTransition(o.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, to)
	}
	o.State = to
	return nil
}
