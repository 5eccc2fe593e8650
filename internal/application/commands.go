package application

import (
	"strings"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/internal/ledger"
	"github.com/akriventsev/psp-core/internal/routing"
)

// OpenAccount открыть счет клиента
type OpenAccount struct {
	ClientID  string
	AccountID string
	Currency  string
}

func (c OpenAccount) CommandName() string { return "ledger.open_account" }
func (c OpenAccount) AggregateID() string { return c.AccountID }

func (c OpenAccount) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.AccountID) == "" {
		return core.NewError(core.CodeValidation, "client_id and account_id are required")
	}
	return nil
}

// Credit зачислить сумму на доступный баланс
type Credit struct {
	AccountID     string
	Amount        ledger.Money
	Description   string
	TransactionID string
}

func (c Credit) CommandName() string { return "ledger.credit" }
func (c Credit) AggregateID() string { return c.AccountID }
func (c Credit) Validate() error     { return requireAccount(c.AccountID) }

// Debit списать сумму с доступного баланса
type Debit struct {
	AccountID     string
	Amount        ledger.Money
	Description   string
	TransactionID string
}

func (c Debit) CommandName() string { return "ledger.debit" }
func (c Debit) AggregateID() string { return c.AccountID }
func (c Debit) Validate() error     { return requireAccount(c.AccountID) }

// BlockFunds заблокировать часть доступного баланса
type BlockFunds struct {
	AccountID     string
	Amount        ledger.Money
	Reason        string
	TransactionID string
}

func (c BlockFunds) CommandName() string { return "ledger.block_funds" }
func (c BlockFunds) AggregateID() string { return c.AccountID }
func (c BlockFunds) Validate() error     { return requireAccount(c.AccountID) }

// UnblockFunds вернуть заблокированную сумму в доступный баланс
type UnblockFunds struct {
	AccountID     string
	Amount        ledger.Money
	Reason        string
	TransactionID string
}

func (c UnblockFunds) CommandName() string { return "ledger.unblock_funds" }
func (c UnblockFunds) AggregateID() string { return c.AccountID }
func (c UnblockFunds) Validate() error     { return requireAccount(c.AccountID) }

func requireAccount(id string) error {
	if strings.TrimSpace(id) == "" {
		return core.NewError(core.CodeValidation, "account_id is required")
	}
	return nil
}

// CreateWebhook зарегистрировать вебхук; пустой WebhookID генерируется
type CreateWebhook struct {
	WebhookID   string
	ClientID    string
	URL         string
	Events      []string
	Secret      string
	Description string
}

func (c CreateWebhook) CommandName() string { return "webhook.create" }

// UpdateWebhook изменить поля вебхука; nil поле не меняется
type UpdateWebhook struct {
	WebhookID   string
	URL         *string
	Events      []string
	Secret      *string
	Description *string
	Active      *bool
}

func (c UpdateWebhook) CommandName() string { return "webhook.update" }
func (c UpdateWebhook) AggregateID() string { return c.WebhookID }

func (c UpdateWebhook) Validate() error {
	if strings.TrimSpace(c.WebhookID) == "" {
		return core.NewError(core.CodeValidation, "webhook_id is required")
	}
	return nil
}

// ValidateRouting проверить распределение без сохранения
type ValidateRouting struct {
	Entries []routing.Entry
}

func (c ValidateRouting) CommandName() string { return "routing.validate" }

// ConfigureRouting принять распределение клиента
type ConfigureRouting struct {
	ClientID string
	Entries  []routing.Entry
}

func (c ConfigureRouting) CommandName() string { return "routing.configure" }
