package ledger

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
)

func brl(amount string) Money {
	return MustMoney(amount, "BRL")
}

func openAccount(t *testing.T) *Account {
	t.Helper()
	a, err := OpenAccount("client-1", "acc-1", "")
	require.NoError(t, err)
	return a
}

func assertSameState(t *testing.T, want, got AccountState) {
	t.Helper()
	assert.Equal(t, want.ClientID, got.ClientID)
	assert.Equal(t, want.AccountID, got.AccountID)
	assert.Equal(t, want.Currency, got.Currency)
	assert.True(t, want.Available.Equal(got.Available), "available %s != %s", want.Available, got.Available)
	assert.True(t, want.Blocked.Equal(got.Blocked), "blocked %s != %s", want.Blocked, got.Blocked)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.LastUpdated.Equal(got.LastUpdated))
	assert.Equal(t, want.Version, got.Version)
}

func TestOpenAccount(t *testing.T) {
	a := openAccount(t)
	assert.Equal(t, "acc-1", a.ID())
	assert.Equal(t, "client-1", a.ClientID())
	assert.Equal(t, "BRL", a.Currency())
	assert.True(t, a.AvailableBalance().IsZero())
	assert.True(t, a.BlockedBalance().IsZero())
	assert.Equal(t, int64(1), a.Version())
	assert.Len(t, a.GetUncommittedEvents(), 1)

	_, err := OpenAccount("", "acc-1", "BRL")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestAccount_CreditDebit(t *testing.T) {
	a := openAccount(t)
	require.NoError(t, a.Credit(brl("100"), "deposit", "tx-1"))
	require.NoError(t, a.Debit(brl("30.25"), "pix", "tx-2"))

	assert.True(t, a.AvailableBalance().Equal(brl("69.75")))
	assert.Equal(t, int64(3), a.Version())

	evts := a.GetUncommittedEvents()
	require.Len(t, evts, 3)
	debited, ok := evts[2].(*BalanceDebited)
	require.True(t, ok)
	assert.True(t, debited.OldBalance.Equal(brl("100")))
	assert.True(t, debited.NewBalance.Equal(brl("69.75")))
	assert.Equal(t, "tx-2", debited.TransactionID)
}

func TestAccount_DebitWholeBalance(t *testing.T) {
	a := openAccount(t)
	require.NoError(t, a.Credit(brl("50"), "", ""))

	require.NoError(t, a.Debit(brl("50"), "", ""))
	assert.True(t, a.AvailableBalance().IsZero())
}

func TestAccount_DebitOverBalanceLeavesStateUnchanged(t *testing.T) {
	a := openAccount(t)
	require.NoError(t, a.Credit(brl("50"), "", ""))
	before := a.State()

	err := a.Debit(brl("50.01"), "", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NotErrorIs(t, err, ErrInsufficientBlockedFunds)
	assertSameState(t, before, a.State())
	assert.Len(t, a.GetUncommittedEvents(), 2)
}

func TestAccount_BlockUnblock(t *testing.T) {
	a := openAccount(t)
	require.NoError(t, a.Credit(brl("100"), "", ""))
	require.NoError(t, a.Block(brl("40"), "dispute", "tx-3"))

	assert.True(t, a.AvailableBalance().Equal(brl("60")))
	assert.True(t, a.BlockedBalance().Equal(brl("40")))
	assert.True(t, a.TotalBalance().Equal(brl("100")))

	assert.ErrorIs(t, a.Block(brl("60.01"), "", ""), ErrInsufficientFunds)
	assert.ErrorIs(t, a.Unblock(brl("40.01"), "", ""), ErrInsufficientBlockedFunds)

	require.NoError(t, a.Unblock(brl("15"), "resolved", "tx-4"))
	assert.True(t, a.AvailableBalance().Equal(brl("75")))
	assert.True(t, a.BlockedBalance().Equal(brl("25")))
	assert.True(t, a.TotalBalance().Equal(brl("100")))
}

func TestAccount_AmountValidation(t *testing.T) {
	a := openAccount(t)
	zero := brl("0")
	for name, op := range map[string]func(Money, string, string) error{
		"credit":  a.Credit,
		"debit":   a.Debit,
		"block":   a.Block,
		"unblock": a.Unblock,
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op(zero, "", ""), ErrNonPositiveAmount)
			assert.ErrorIs(t, op(MustMoney("1", "USD"), "", ""), core.ErrValidation)
		})
	}
	assert.Equal(t, int64(1), a.Version())
}

func TestAccount_NotOpened(t *testing.T) {
	a := NewAccount("acc-x")
	assert.ErrorIs(t, a.Credit(brl("1"), "", ""), ErrAccountNotOpened)
}

func TestAccount_ReplayMatchesLiveState(t *testing.T) {
	a := openAccount(t)
	require.NoError(t, a.Credit(brl("100"), "", ""))
	require.NoError(t, a.Block(brl("20"), "", ""))
	require.NoError(t, a.Debit(brl("10"), "", ""))
	require.NoError(t, a.Unblock(brl("5"), "", ""))

	registry := eventsourcing.NewEventRegistry()
	RegisterEvents(registry)

	// через кодек, как это делают персистентные хранилища
	history := make([]events.Event, 0, len(a.GetUncommittedEvents()))
	for _, e := range a.GetUncommittedEvents() {
		env, err := registry.Encode(e)
		require.NoError(t, err)
		decoded, err := registry.Decode(env)
		require.NoError(t, err)
		history = append(history, decoded)
	}

	replayed := NewAccount("acc-1")
	require.NoError(t, replayed.LoadFromHistory(history))
	assertSameState(t, a.State(), replayed.State())
	assert.Empty(t, replayed.GetUncommittedEvents())
}

func TestAccount_RandomSequencesKeepBalancesNonNegative(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	amounts := []string{"0.01", "1", "5.55", "10", "99.99", "250"}

	for run := 0; run < 50; run++ {
		a := openAccount(t)
		for step := 0; step < 40; step++ {
			amount := brl(amounts[rnd.Intn(len(amounts))])
			switch rnd.Intn(4) {
			case 0:
				_ = a.Credit(amount, "", "")
			case 1:
				_ = a.Debit(amount, "", "")
			case 2:
				_ = a.Block(amount, "", "")
			case 3:
				_ = a.Unblock(amount, "", "")
			}
			require.False(t, a.AvailableBalance().Amount().IsNegative())
			require.False(t, a.BlockedBalance().Amount().IsNegative())
		}
		assert.Equal(t, int64(len(a.GetUncommittedEvents())), a.Version())
	}
}

func TestAccount_Repository(t *testing.T) {
	store := eventsourcing.NewInMemoryEventStore(eventsourcing.DefaultInMemoryEventStoreConfig())
	repo := eventsourcing.NewEventSourcedRepository[*Account](store, eventsourcing.DefaultRepositoryConfig(), NewAccount)
	ctx := context.Background()

	a := openAccount(t)
	require.NoError(t, a.Credit(brl("10"), "", ""))
	require.NoError(t, repo.Create(ctx, a))

	updated, err := repo.Execute(ctx, "acc-1", func(acc *Account) error {
		return acc.Debit(brl("10.01"), "", "")
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Nil(t, updated)

	updated, err = repo.Execute(ctx, "acc-1", func(acc *Account) error {
		return acc.Debit(brl("10"), "", "")
	})
	require.NoError(t, err)
	assert.True(t, updated.AvailableBalance().IsZero())
	assert.Equal(t, int64(3), store.StreamVersion("acc-1"))
}
