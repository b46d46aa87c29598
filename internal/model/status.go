package model

import (
	"fmt"
	"strings"
)

// Side is the direction of an order.
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	}
	return 0, fmt.Errorf("%w: side %q must be Buy or Sell", ErrInvalidSide, s)
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "Buy"
	case SideSell:
		return "Sell"
	}
	return "Unknown"
}

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OrderType distinguishes market from limit orders.
type OrderType uint8

const (
	OrderTypeMarket OrderType = iota + 1
	OrderTypeLimit
)

// ParseOrderType accepts "market" or "limit" in any case.
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "market":
		return OrderTypeMarket, nil
	case "limit":
		return OrderTypeLimit, nil
	}
	return 0, fmt.Errorf("%w: order type %q", ErrInvalidOrderType, s)
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "Market"
	case OrderTypeLimit:
		return "Limit"
	}
	return "Unknown"
}

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OrderType) UnmarshalText(b []byte) error {
	v, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// OrderStatus is the order state machine.
//
//	Open -> PartiallyFilled -> Filled | Cancelled
//	Open -> Filled | Cancelled | Rejected
type OrderStatus uint8

const (
	OrderOpen OrderStatus = iota + 1
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
	OrderRejected
)

var orderStatusNames = map[OrderStatus]string{
	OrderOpen:            "Open",
	OrderPartiallyFilled: "PartiallyFilled",
	OrderFilled:          "Filled",
	OrderCancelled:       "Cancelled",
	OrderRejected:        "Rejected",
}

func (s OrderStatus) String() string {
	if n, ok := orderStatusNames[s]; ok {
		return n
	}
	return "Unknown"
}

// ParseOrderStatus parses the canonical status name.
func ParseOrderStatus(s string) (OrderStatus, error) {
	for k, v := range orderStatusNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("model: unknown order status %q", s)
}

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(b []byte) error {
	v, err := ParseOrderStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal order transition.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case OrderOpen:
		switch to {
		case OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderRejected:
			return true
		}
	case OrderPartiallyFilled:
		switch to {
		case OrderPartiallyFilled, OrderFilled, OrderCancelled:
			return true
		}
	case OrderFilled, OrderCancelled, OrderRejected:
	}
	return false
}

// FillStatus derives the status implied by fill progress alone.
func FillStatus(filled, ordered int64) OrderStatus {
	switch {
	case filled <= 0:
		return OrderOpen
	case filled >= ordered:
		return OrderFilled
	default:
		return OrderPartiallyFilled
	}
}

// OfferingStatus is the ISO lifecycle.
type OfferingStatus uint8

const (
	OfferingActive OfferingStatus = iota + 1
	OfferingCompleted
	OfferingCancelled
	OfferingExpired
)

var offeringStatusNames = map[OfferingStatus]string{
	OfferingActive:    "Active",
	OfferingCompleted: "Completed",
	OfferingCancelled: "Cancelled",
	OfferingExpired:   "Expired",
}

func (s OfferingStatus) String() string {
	if n, ok := offeringStatusNames[s]; ok {
		return n
	}
	return "Unknown"
}

// ParseOfferingStatus parses the canonical status name.
func ParseOfferingStatus(s string) (OfferingStatus, error) {
	for k, v := range offeringStatusNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("model: unknown offering status %q", s)
}

func (s OfferingStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OfferingStatus) UnmarshalText(b []byte) error {
	v, err := ParseOfferingStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// CanTransition reports whether s -> to is a legal offering transition.
// Every non-Active state is terminal.
func (s OfferingStatus) CanTransition(to OfferingStatus) bool {
	switch s {
	case OfferingActive:
		switch to {
		case OfferingCompleted, OfferingCancelled, OfferingExpired:
			return true
		}
	case OfferingCompleted, OfferingCancelled, OfferingExpired:
	}
	return false
}

// HoldStatus tracks a funds or share reservation.
type HoldStatus uint8

const (
	HoldActive HoldStatus = iota + 1
	HoldSettled
	HoldReleased
)

var holdStatusNames = map[HoldStatus]string{
	HoldActive:   "Active",
	HoldSettled:  "Settled",
	HoldReleased: "Released",
}

func (s HoldStatus) String() string {
	if n, ok := holdStatusNames[s]; ok {
		return n
	}
	return "Unknown"
}

// ParseHoldStatus parses the canonical status name.
func ParseHoldStatus(s string) (HoldStatus, error) {
	for k, v := range holdStatusNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("model: unknown hold status %q", s)
}

func (s HoldStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *HoldStatus) UnmarshalText(b []byte) error {
	v, err := ParseHoldStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// EntryKind labels a wallet journal line.
type EntryKind string

const (
	EntryDeposit EntryKind = "Deposit"
	EntryReserve EntryKind = "Reserve"
	EntryRelease EntryKind = "Release"
	EntryDebit   EntryKind = "Debit"
	EntryCredit  EntryKind = "Credit"
)
