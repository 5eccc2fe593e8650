package ledger

import (
	"strings"
	"time"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
)

var (
	// ErrInsufficientFunds доступного баланса недостаточно для операции
	ErrInsufficientFunds = &core.FrameworkError{Code: core.CodeInvariantViolation, Message: "insufficient funds"}
	// ErrInsufficientBlockedFunds заблокированного баланса недостаточно для разблокировки
	ErrInsufficientBlockedFunds = &core.FrameworkError{Code: core.CodeInvariantViolation, Message: "insufficient blocked funds"}
	// ErrNonPositiveAmount сумма операции должна быть больше нуля
	ErrNonPositiveAmount = &core.FrameworkError{Code: core.CodeValidation, Message: "amount must be positive"}
	// ErrAccountNotOpened операция над счетом без события открытия
	ErrAccountNotOpened = &core.FrameworkError{Code: core.CodeInvariantViolation, Message: "account is not opened"}
)

// Account агрегат баланса счета. Оба баланса всегда неотрицательны.
type Account struct {
	*eventsourcing.EventSourcedAggregate
	clientID    string
	accountID   string
	currency    string
	available   Money
	blocked     Money
	createdAt   time.Time
	lastUpdated time.Time
	opened      bool
}

// AccountState снимок состояния счета
type AccountState struct {
	ClientID    string
	AccountID   string
	Currency    string
	Available   Money
	Blocked     Money
	CreatedAt   time.Time
	LastUpdated time.Time
	Version     int64
}

// NewAccount создает пустой агрегат для восстановления из истории
func NewAccount(accountID string) *Account {
	a := &Account{EventSourcedAggregate: eventsourcing.NewEventSourcedAggregate(accountID)}
	eventsourcing.On(a.EventSourcedAggregate, EventAccountOpened, a.onOpened)
	eventsourcing.On(a.EventSourcedAggregate, EventBalanceCredited, a.onCredited)
	eventsourcing.On(a.EventSourcedAggregate, EventBalanceDebited, a.onDebited)
	eventsourcing.On(a.EventSourcedAggregate, EventFundsBlocked, a.onBlocked)
	eventsourcing.On(a.EventSourcedAggregate, EventFundsUnblocked, a.onUnblocked)
	return a
}

// OpenAccount открывает счет с нулевыми балансами
func OpenAccount(clientID, accountID, currency string) (*Account, error) {
	clientID = strings.TrimSpace(clientID)
	accountID = strings.TrimSpace(accountID)
	if clientID == "" || accountID == "" {
		return nil, core.NewError(core.CodeValidation, "client_id and account_id are required")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	a := NewAccount(accountID)
	err := a.RaiseEvent(&AccountOpened{
		BaseEvent: events.NewBaseEvent(EventAccountOpened, accountID),
		ClientID:  clientID,
		AccountID: accountID,
		Currency:  currency,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Credit увеличивает доступный баланс
func (a *Account) Credit(amount Money, description, transactionID string) error {
	if err := a.checkAmount(amount); err != nil {
		return err
	}
	newBalance, err := a.available.Add(amount)
	if err != nil {
		return err
	}
	return a.RaiseEvent(&BalanceCredited{
		BaseEvent:     events.NewBaseEvent(EventBalanceCredited, a.ID()),
		ClientID:      a.clientID,
		AccountID:     a.accountID,
		Amount:        amount,
		OldBalance:    a.available,
		NewBalance:    newBalance,
		Description:   description,
		TransactionID: transactionID,
	})
}

// Debit уменьшает доступный баланс
func (a *Account) Debit(amount Money, description, transactionID string) error {
	if err := a.checkAmount(amount); err != nil {
		return err
	}
	if a.available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	newBalance, err := a.available.Sub(amount)
	if err != nil {
		return err
	}
	return a.RaiseEvent(&BalanceDebited{
		BaseEvent:     events.NewBaseEvent(EventBalanceDebited, a.ID()),
		ClientID:      a.clientID,
		AccountID:     a.accountID,
		Amount:        amount,
		OldBalance:    a.available,
		NewBalance:    newBalance,
		Description:   description,
		TransactionID: transactionID,
	})
}

// Block переносит сумму из доступного баланса в заблокированный
func (a *Account) Block(amount Money, reason, transactionID string) error {
	if err := a.checkAmount(amount); err != nil {
		return err
	}
	if a.available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	available, err := a.available.Sub(amount)
	if err != nil {
		return err
	}
	blocked, err := a.blocked.Add(amount)
	if err != nil {
		return err
	}
	return a.RaiseEvent(&FundsBlocked{
		BaseEvent:     events.NewBaseEvent(EventFundsBlocked, a.ID()),
		ClientID:      a.clientID,
		AccountID:     a.accountID,
		Amount:        amount,
		Available:     available,
		Blocked:       blocked,
		Reason:        reason,
		TransactionID: transactionID,
	})
}

// Unblock возвращает сумму из заблокированного баланса в доступный
func (a *Account) Unblock(amount Money, reason, transactionID string) error {
	if err := a.checkAmount(amount); err != nil {
		return err
	}
	if a.blocked.LessThan(amount) {
		return ErrInsufficientBlockedFunds
	}
	blocked, err := a.blocked.Sub(amount)
	if err != nil {
		return err
	}
	available, err := a.available.Add(amount)
	if err != nil {
		return err
	}
	return a.RaiseEvent(&FundsUnblocked{
		BaseEvent:     events.NewBaseEvent(EventFundsUnblocked, a.ID()),
		ClientID:      a.clientID,
		AccountID:     a.accountID,
		Amount:        amount,
		Available:     available,
		Blocked:       blocked,
		Reason:        reason,
		TransactionID: transactionID,
	})
}

func (a *Account) checkAmount(amount Money) error {
	if !a.opened {
		return ErrAccountNotOpened
	}
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if amount.Currency() != a.currency {
		return core.Errorf(core.CodeValidation, "currency mismatch: account %s, amount %s", a.currency, amount.Currency())
	}
	return nil
}

func (a *Account) onOpened(e *AccountOpened) error {
	if a.opened {
		return core.Errorf(core.CodeInvariantViolation, "account %s already opened", a.ID())
	}
	a.clientID = e.ClientID
	a.accountID = e.AccountID
	a.currency = e.Currency
	a.available = Zero(e.Currency)
	a.blocked = Zero(e.Currency)
	a.createdAt = e.OccurredAt()
	a.lastUpdated = e.OccurredAt()
	a.opened = true
	return nil
}

func (a *Account) onCredited(e *BalanceCredited) error {
	available, err := a.available.Add(e.Amount)
	if err != nil {
		return err
	}
	a.available = available
	a.lastUpdated = e.OccurredAt()
	return nil
}

func (a *Account) onDebited(e *BalanceDebited) error {
	available, err := a.available.Sub(e.Amount)
	if err != nil {
		return ErrInsufficientFunds
	}
	a.available = available
	a.lastUpdated = e.OccurredAt()
	return nil
}

func (a *Account) onBlocked(e *FundsBlocked) error {
	available, err := a.available.Sub(e.Amount)
	if err != nil {
		return ErrInsufficientFunds
	}
	blocked, err := a.blocked.Add(e.Amount)
	if err != nil {
		return err
	}
	a.available = available
	a.blocked = blocked
	a.lastUpdated = e.OccurredAt()
	return nil
}

func (a *Account) onUnblocked(e *FundsUnblocked) error {
	blocked, err := a.blocked.Sub(e.Amount)
	if err != nil {
		return ErrInsufficientBlockedFunds
	}
	available, err := a.available.Add(e.Amount)
	if err != nil {
		return err
	}
	a.available = available
	a.blocked = blocked
	a.lastUpdated = e.OccurredAt()
	return nil
}

// ClientID возвращает идентификатор клиента
func (a *Account) ClientID() string {
	return a.clientID
}

// AccountID возвращает идентификатор счета
func (a *Account) AccountID() string {
	return a.accountID
}

// Currency возвращает валюту счета
func (a *Account) Currency() string {
	return a.currency
}

// AvailableBalance возвращает доступный баланс
func (a *Account) AvailableBalance() Money {
	return a.available
}

// BlockedBalance возвращает заблокированный баланс
func (a *Account) BlockedBalance() Money {
	return a.blocked
}

// TotalBalance возвращает сумму доступного и заблокированного балансов
func (a *Account) TotalBalance() Money {
	total, err := a.available.Add(a.blocked)
	if err != nil {
		return a.available
	}
	return total
}

// CreatedAt возвращает время открытия
func (a *Account) CreatedAt() time.Time {
	return a.createdAt
}

// LastUpdated возвращает время последнего изменения
func (a *Account) LastUpdated() time.Time {
	return a.lastUpdated
}

// State возвращает снимок состояния
func (a *Account) State() AccountState {
	return AccountState{
		ClientID:    a.clientID,
		AccountID:   a.accountID,
		Currency:    a.currency,
		Available:   a.available,
		Blocked:     a.blocked,
		CreatedAt:   a.createdAt,
		LastUpdated: a.lastUpdated,
		Version:     a.Version(),
	}
}
