// Package ledger manages per-owner cash wallets and the holds that back
// resting buy orders.
//
// A hold moves funds from available to reserved. Reserved funds can only
// leave a wallet through Settle, which debits the hold and credits a payee,
// or return to available through Release/Trim. Every movement writes a
// journal entry.
//
// The package-level functions run inside a caller-provided store.Tx so that
// the settlement coordinator can combine them with portfolio and order
// writes in one atomic unit. Ledger wraps each of them in its own
// transaction for standalone use.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/store"
)

// OpenWallet returns the owner's wallet in currency, creating an empty one
// when none exists.
func OpenWallet(ctx context.Context, tx store.Tx, ownerID, currency string, at time.Time) (*model.Wallet, error) {
	if ownerID == "" {
		return nil, model.ErrMissingOwner
	}
	w, err := tx.EnsureWallet(ctx, ownerID, currency, at)
	if err != nil {
		return nil, fmt.Errorf("open wallet: %w", err)
	}
	return w, nil
}

// Deposit adds amount to the owner's available balance.
func Deposit(ctx context.Context, tx store.Tx, ownerID, currency string, amount decimal.Decimal, ref string, at time.Time) (*model.Wallet, error) {
	return credit(ctx, tx, ownerID, currency, amount, model.EntryDeposit, ref, at)
}

// Credit adds amount to the owner's available balance as a trade proceed.
func Credit(ctx context.Context, tx store.Tx, ownerID, currency string, amount decimal.Decimal, ref string, at time.Time) (*model.Wallet, error) {
	return credit(ctx, tx, ownerID, currency, amount, model.EntryCredit, ref, at)
}

func credit(ctx context.Context, tx store.Tx, ownerID, currency string, amount decimal.Decimal,
	kind model.EntryKind, ref string, at time.Time) (*model.Wallet, error) {
	if !amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	w, err := OpenWallet(ctx, tx, ownerID, currency, at)
	if err != nil {
		return nil, err
	}
	w.Available = w.Available.Add(amount)
	w.UpdatedAt = at
	if err := tx.PutWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, journal(ctx, tx, w, kind, amount, ref, at)
}

// Reserve moves amount from available to reserved and returns the new hold.
// A missing wallet has a zero balance.
func Reserve(ctx context.Context, tx store.Tx, ownerID, currency string, amount decimal.Decimal, ref string, at time.Time) (*model.FundsHold, error) {
	if !amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	w, err := tx.GetWallet(ctx, ownerID, currency)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: need %s, available 0", model.ErrInsufficientFunds, amount)
	}
	if err != nil {
		return nil, err
	}
	if w.Available.LessThan(amount) {
		return nil, fmt.Errorf("%w: need %s, available %s", model.ErrInsufficientFunds, amount, w.Available)
	}

	w.Available = w.Available.Sub(amount)
	w.Reserved = w.Reserved.Add(amount)
	w.UpdatedAt = at
	if err := tx.PutWallet(ctx, w); err != nil {
		return nil, err
	}

	h := &model.FundsHold{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Currency:  currency,
		Amount:    amount,
		Remaining: amount,
		Status:    model.HoldActive,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := tx.PutFundsHold(ctx, h); err != nil {
		return nil, err
	}
	return h, journal(ctx, tx, w, model.EntryReserve, amount, ref, at)
}

// Settle debits amount from the hold and credits it to payee's available
// balance. A zero amount is a no-op. The hold stays Active while funds
// remain; use Trim or Release to return the rest.
func Settle(ctx context.Context, tx store.Tx, holdID string, amount decimal.Decimal, payeeID, ref string, at time.Time) error {
	if amount.IsNegative() {
		return model.ErrInvalidAmount
	}
	h, err := activeHold(ctx, tx, holdID)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	if h.Remaining.LessThan(amount) {
		return fmt.Errorf("%w: hold %s has %s, settling %s", model.ErrInsufficientFunds, holdID, h.Remaining, amount)
	}

	w, err := tx.GetWallet(ctx, h.OwnerID, h.Currency)
	if err != nil {
		return err
	}
	w.Reserved = w.Reserved.Sub(amount)
	w.UpdatedAt = at
	if err := tx.PutWallet(ctx, w); err != nil {
		return err
	}
	if err := journal(ctx, tx, w, model.EntryDebit, amount, ref, at); err != nil {
		return err
	}

	h.Remaining = h.Remaining.Sub(amount)
	if h.Remaining.IsZero() {
		h.Status = model.HoldSettled
	}
	h.UpdatedAt = at
	if err := tx.PutFundsHold(ctx, h); err != nil {
		return err
	}

	_, err = Credit(ctx, tx, payeeID, h.Currency, amount, ref, at)
	return err
}

// Trim returns everything above keep from the hold to available and reports
// the amount released. With keep zero the hold is closed: Released if it
// was never drawn on, Settled otherwise.
func Trim(ctx context.Context, tx store.Tx, holdID string, keep decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	h, err := activeHold(ctx, tx, holdID)
	if err != nil {
		return decimal.Zero, err
	}
	if keep.IsNegative() {
		keep = decimal.Zero
	}
	excess := h.Remaining.Sub(keep)
	if !excess.IsPositive() {
		return decimal.Zero, nil
	}

	w, err := tx.GetWallet(ctx, h.OwnerID, h.Currency)
	if err != nil {
		return decimal.Zero, err
	}
	w.Reserved = w.Reserved.Sub(excess)
	w.Available = w.Available.Add(excess)
	w.UpdatedAt = at
	if err := tx.PutWallet(ctx, w); err != nil {
		return decimal.Zero, err
	}

	h.Remaining = keep
	if keep.IsZero() {
		h.Status = model.HoldSettled
		if h.Amount.Equal(excess) {
			h.Status = model.HoldReleased
		}
	}
	h.UpdatedAt = at
	if err := tx.PutFundsHold(ctx, h); err != nil {
		return decimal.Zero, err
	}
	return excess, journal(ctx, tx, w, model.EntryRelease, excess, h.ID, at)
}

// Release returns the hold's remaining funds to available.
func Release(ctx context.Context, tx store.Tx, holdID string, at time.Time) (decimal.Decimal, error) {
	return Trim(ctx, tx, holdID, decimal.Zero, at)
}

func activeHold(ctx context.Context, tx store.Tx, holdID string) (*model.FundsHold, error) {
	h, err := tx.GetFundsHold(ctx, holdID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrHoldNotFound, holdID)
	}
	if err != nil {
		return nil, err
	}
	if h.Status != model.HoldActive {
		return nil, fmt.Errorf("%w: %s is %s", model.ErrHoldAlreadyConsumed, holdID, h.Status)
	}
	return h, nil
}

func journal(ctx context.Context, tx store.Tx, w *model.Wallet, kind model.EntryKind, amount decimal.Decimal, ref string, at time.Time) error {
	return tx.InsertWalletEntry(ctx, &model.WalletEntry{
		ID:             uuid.New().String(),
		OwnerID:        w.OwnerID,
		Currency:       w.Currency,
		Kind:           kind,
		Amount:         amount,
		AvailableAfter: w.Available,
		ReservedAfter:  w.Reserved,
		Reference:      ref,
		CreatedAt:      at,
	})
}
