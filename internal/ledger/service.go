package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/store"
)

// Ledger runs each wallet operation in its own transaction.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

// New creates a Ledger over st.
func New(st store.Store) *Ledger {
	return &Ledger{store: st, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) OpenWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error) {
	var w *model.Wallet
	err := l.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		w, err = OpenWallet(ctx, tx, ownerID, currency, l.now())
		return err
	})
	return w, err
}

func (l *Ledger) Deposit(ctx context.Context, ownerID, currency string, amount decimal.Decimal) (*model.Wallet, error) {
	var w *model.Wallet
	err := l.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		w, err = Deposit(ctx, tx, ownerID, currency, amount, "deposit", l.now())
		return err
	})
	return w, err
}

func (l *Ledger) Credit(ctx context.Context, ownerID, currency string, amount decimal.Decimal) (*model.Wallet, error) {
	var w *model.Wallet
	err := l.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		w, err = Credit(ctx, tx, ownerID, currency, amount, "", l.now())
		return err
	})
	return w, err
}

// Reserve places a hold and returns its id.
func (l *Ledger) Reserve(ctx context.Context, ownerID, currency string, amount decimal.Decimal) (string, error) {
	var id string
	err := l.store.RunInTx(ctx, func(tx store.Tx) error {
		h, err := Reserve(ctx, tx, ownerID, currency, amount, "", l.now())
		if err != nil {
			return err
		}
		id = h.ID
		return nil
	})
	return id, err
}

func (l *Ledger) Release(ctx context.Context, holdID string) error {
	return l.store.RunInTx(ctx, func(tx store.Tx) error {
		_, err := Release(ctx, tx, holdID, l.now())
		return err
	})
}

// SettleReserved debits amount from the hold, credits payee and releases
// whatever is left on the hold.
func (l *Ledger) SettleReserved(ctx context.Context, holdID string, amount decimal.Decimal, payeeID string) error {
	return l.store.RunInTx(ctx, func(tx store.Tx) error {
		at := l.now()
		if err := Settle(ctx, tx, holdID, amount, payeeID, holdID, at); err != nil {
			return err
		}
		h, err := tx.GetFundsHold(ctx, holdID)
		if err != nil {
			return err
		}
		if h.Status != model.HoldActive {
			return nil
		}
		_, err = Trim(ctx, tx, holdID, decimal.Zero, at)
		return err
	})
}

func (l *Ledger) Wallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error) {
	return l.store.GetWallet(ctx, ownerID, currency)
}

func (l *Ledger) Hold(ctx context.Context, holdID string) (*model.FundsHold, error) {
	return l.store.GetFundsHold(ctx, holdID)
}

// Entries returns the owner's journal, newest first.
func (l *Ledger) Entries(ctx context.Context, ownerID string, limit int) ([]model.WalletEntry, error) {
	return l.store.ListWalletEntries(ctx, ownerID, limit)
}
