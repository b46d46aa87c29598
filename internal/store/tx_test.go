package store_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbands/share-exchange/internal/store"
)

// newPostgresStore connects to EXCHANGE_TEST_DATABASE_URL, skipping the
// test when it is unset.
func newPostgresStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	url := os.Getenv("EXCHANGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EXCHANGE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	pg := store.NewPostgresStore(pool)
	require.NoError(t, pg.Migrate(ctx))
	return pg
}

func credit(ctx context.Context, tx store.Tx, ownerID string, amount decimal.Decimal) error {
	w, err := tx.EnsureWallet(ctx, ownerID, "USD", time.Now())
	if err != nil {
		return err
	}
	w.Available = w.Available.Add(amount)
	return tx.PutWallet(ctx, w)
}

// testCreditsToNewWallet credits a wallet that does not exist yet from two
// transactions, the second starting while the first is still open.
func testCreditsToNewWallet(t *testing.T, st store.Store) {
	ctx := context.Background()
	owner := "fees-" + uuid.NewString()
	opened := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := st.RunInTx(ctx, func(tx store.Tx) error {
			if err := credit(ctx, tx, owner, decimal.RequireFromString("9.6")); err != nil {
				return err
			}
			close(opened)
			<-release
			return nil
		})
		assert.NoError(t, err)
	}()

	<-opened
	second := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(second)
		err := st.RunInTx(ctx, func(tx store.Tx) error {
			return credit(ctx, tx, owner, decimal.RequireFromString("4.8"))
		})
		assert.NoError(t, err)
	}()

	select {
	case <-second:
		t.Fatal("second credit committed while the first transaction held the wallet")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	wg.Wait()

	w, err := st.GetWallet(ctx, owner, "USD")
	require.NoError(t, err)
	assert.True(t, w.Available.Equal(decimal.RequireFromString("14.4")), "got %s", w.Available)
}

// testTradingAccountLock checks that a second transaction waits for the
// account lock held by the first.
func testTradingAccountLock(t *testing.T, st store.Store) {
	ctx := context.Background()
	acct := "acct-" + uuid.NewString()
	locked := make(chan struct{})
	release := make(chan struct{})
	acquired := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, st.RunInTx(ctx, func(tx store.Tx) error {
			if err := tx.LockTradingAccount(ctx, acct); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		}))
	}()

	<-locked
	go func() {
		defer wg.Done()
		assert.NoError(t, st.RunInTx(ctx, func(tx store.Tx) error {
			if err := tx.LockTradingAccount(ctx, acct); err != nil {
				return err
			}
			close(acquired)
			return nil
		}))
	}()

	select {
	case <-acquired:
		t.Fatal("account lock acquired twice")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	wg.Wait()

	select {
	case <-acquired:
	default:
		t.Fatal("second transaction never acquired the lock")
	}
}

func TestMemoryStore_CreditsToNewWallet(t *testing.T) {
	testCreditsToNewWallet(t, store.NewMemoryStore())
}

func TestMemoryStore_TradingAccountLock(t *testing.T) {
	testTradingAccountLock(t, store.NewMemoryStore())
}

func TestPostgresStore_CreditsToNewWallet(t *testing.T) {
	testCreditsToNewWallet(t, newPostgresStore(t))
}

func TestPostgresStore_TradingAccountLock(t *testing.T) {
	testTradingAccountLock(t, newPostgresStore(t))
}

func TestPostgresStore_LockWalletsCreatesMissing(t *testing.T) {
	pg := newPostgresStore(t)
	ctx := context.Background()
	owner := "seller-" + uuid.NewString()

	require.NoError(t, pg.RunInTx(ctx, func(tx store.Tx) error {
		return tx.LockWallets(ctx, "USD", owner)
	}))
	w, err := pg.GetWallet(ctx, owner, "USD")
	require.NoError(t, err)
	assert.True(t, w.Available.IsZero())
}
