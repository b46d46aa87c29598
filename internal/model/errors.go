package model

import "errors"

// Validation errors: caller-fixable, nothing was mutated.
var (
	ErrInvalidSide        = errors.New("exchange: invalid order side")
	ErrInvalidOrderType   = errors.New("exchange: invalid order type")
	ErrInvalidQuantity    = errors.New("exchange: quantity must be positive")
	ErrInvalidPrice       = errors.New("exchange: price must be positive")
	ErrInvalidAmount      = errors.New("exchange: amount must be positive")
	ErrInvalidBounds      = errors.New("exchange: offering price bounds are inconsistent")
	ErrInvalidEndDate     = errors.New("exchange: end date must be in the future")
	ErrEmptyUpdate        = errors.New("exchange: at least one field must be provided")
	ErrAccountInactive    = errors.New("exchange: trading account is inactive")
	ErrNoReferencePrice   = errors.New("exchange: no reference price for market order")
	ErrSharesExceedIssued = errors.New("exchange: shares offered exceed shares issued")
	ErrFrozenAfterSale    = errors.New("exchange: shares and price cannot change after sales started")
	ErrMissingOwner       = errors.New("exchange: owner is required")
	ErrInvalidFilter      = errors.New("exchange: invalid listing filter")
)

// Resource errors: the order is rejected in full.
var (
	ErrInsufficientFunds           = errors.New("exchange: insufficient funds")
	ErrInsufficientShares          = errors.New("exchange: insufficient shares")
	ErrInsufficientSharesRemaining = errors.New("exchange: insufficient offering shares remaining")
	ErrPositionLimitExceeded       = errors.New("exchange: position limit exceeded")
	ErrOrderNotionalLimitExceeded  = errors.New("exchange: order notional limit exceeded")
)

// State errors: stale view or race, callers may refresh and retry.
var (
	ErrInvalidStateTransition = errors.New("exchange: invalid state transition")
	ErrOfferingNotActive      = errors.New("exchange: offering is not active")
	ErrHoldNotFound           = errors.New("exchange: hold not found")
	ErrHoldAlreadyConsumed    = errors.New("exchange: hold already consumed")
	ErrNotFound               = errors.New("exchange: not found")
	ErrForbidden              = errors.New("exchange: not permitted")
	ErrOverfill               = errors.New("exchange: fill exceeds remaining quantity")
)

// Kind is the error taxonomy surfaced to callers.
type Kind uint8

const (
	KindSystem Kind = iota
	KindValidation
	KindResource
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindResource:
		return "resource"
	case KindState:
		return "state"
	}
	return "system"
}

var kinds = map[error]Kind{
	ErrInvalidSide:                 KindValidation,
	ErrInvalidOrderType:            KindValidation,
	ErrInvalidQuantity:             KindValidation,
	ErrInvalidPrice:                KindValidation,
	ErrInvalidAmount:               KindValidation,
	ErrInvalidBounds:               KindValidation,
	ErrInvalidEndDate:              KindValidation,
	ErrEmptyUpdate:                 KindValidation,
	ErrAccountInactive:             KindValidation,
	ErrNoReferencePrice:            KindValidation,
	ErrSharesExceedIssued:          KindValidation,
	ErrFrozenAfterSale:             KindValidation,
	ErrMissingOwner:                KindValidation,
	ErrInvalidFilter:               KindValidation,
	ErrInsufficientFunds:           KindResource,
	ErrInsufficientShares:          KindResource,
	ErrInsufficientSharesRemaining: KindResource,
	ErrPositionLimitExceeded:       KindResource,
	ErrOrderNotionalLimitExceeded:  KindResource,
	ErrInvalidStateTransition:      KindState,
	ErrOfferingNotActive:           KindState,
	ErrHoldNotFound:                KindState,
	ErrHoldAlreadyConsumed:         KindState,
	ErrNotFound:                    KindState,
	ErrForbidden:                   KindState,
	ErrOverfill:                    KindState,
}

// KindOf classifies err. Anything not in the taxonomy is a system error.
func KindOf(err error) Kind {
	for sentinel, k := range kinds {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindSystem
}
