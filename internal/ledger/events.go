package ledger

import (
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
)

// Типы событий счета
const (
	EventAccountOpened   = "account.opened"
	EventBalanceCredited = "account.credited"
	EventBalanceDebited  = "account.debited"
	EventFundsBlocked    = "account.funds_blocked"
	EventFundsUnblocked  = "account.funds_unblocked"
)

// AccountOpened счет создан с нулевыми балансами
type AccountOpened struct {
	events.BaseEvent
	ClientID  string `json:"client_id"`
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
}

// BalanceCredited доступный баланс увеличен
type BalanceCredited struct {
	events.BaseEvent
	ClientID      string `json:"client_id"`
	AccountID     string `json:"account_id"`
	Amount        Money  `json:"amount"`
	OldBalance    Money  `json:"old_balance"`
	NewBalance    Money  `json:"new_balance"`
	Description   string `json:"description,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// BalanceDebited доступный баланс уменьшен
type BalanceDebited struct {
	events.BaseEvent
	ClientID      string `json:"client_id"`
	AccountID     string `json:"account_id"`
	Amount        Money  `json:"amount"`
	OldBalance    Money  `json:"old_balance"`
	NewBalance    Money  `json:"new_balance"`
	Description   string `json:"description,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// FundsBlocked сумма перенесена из доступного баланса в заблокированный
type FundsBlocked struct {
	events.BaseEvent
	ClientID      string `json:"client_id"`
	AccountID     string `json:"account_id"`
	Amount        Money  `json:"amount"`
	Available     Money  `json:"available_balance"`
	Blocked       Money  `json:"blocked_balance"`
	Reason        string `json:"reason,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// FundsUnblocked сумма возвращена из заблокированного баланса в доступный
type FundsUnblocked struct {
	events.BaseEvent
	ClientID      string `json:"client_id"`
	AccountID     string `json:"account_id"`
	Amount        Money  `json:"amount"`
	Available     Money  `json:"available_balance"`
	Blocked       Money  `json:"blocked_balance"`
	Reason        string `json:"reason,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// RegisterEvents регистрирует события счета в реестре кодека
func RegisterEvents(r *eventsourcing.EventRegistry) {
	r.Register(EventAccountOpened, func() events.Event { return &AccountOpened{} })
	r.Register(EventBalanceCredited, func() events.Event { return &BalanceCredited{} })
	r.Register(EventBalanceDebited, func() events.Event { return &BalanceDebited{} })
	r.Register(EventFundsBlocked, func() events.Event { return &FundsBlocked{} })
	r.Register(EventFundsUnblocked, func() events.Event { return &FundsUnblocked{} })
}
