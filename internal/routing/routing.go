// Package routing проверяет распределение платежа по счетам назначения в процентах
// и выбирает счет для конкретной операции.
package routing

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/akriventsev/psp-core/framework/core"
)

var (
	hundred   = decimal.NewFromInt(100)
	tolerance = decimal.RequireFromString("0.01")
)

var (
	// ErrInvalidConfiguration распределение содержит ошибки
	ErrInvalidConfiguration = &core.FrameworkError{Code: core.CodeValidation, Message: "invalid routing configuration"}
	// ErrNoAccount нет счета, подходящего для операции
	ErrNoAccount = &core.FrameworkError{Code: core.CodeNotFound, Message: "no routing account available"}
)

// Entry доля платежа, направляемая на счет
type Entry struct {
	AccountID  string          `json:"account_id"`
	BankCode   string          `json:"bank_code"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Result результат проверки распределения
type Result struct {
	Errors   []string        `json:"errors"`
	Warnings []string        `json:"warnings"`
	Total    decimal.Decimal `json:"total"`
	IsValid  bool            `json:"is_valid"`
}

// OK распределение принято (возможно с предупреждениями)
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// ValidationError отказ в распределении со списком причин
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidConfiguration.Message, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// Validate проверяет распределение без справочника банков
func Validate(entries []Entry) Result {
	return NewValidator(nil).Validate(entries)
}

// Validator проверяет распределения; справочник банков необязателен
type Validator struct {
	catalog *BankCatalog
}

// NewValidator создает валидатор; при nil справочнике коды банков не проверяются
func NewValidator(catalog *BankCatalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate применяет правила по порядку, собирая все ошибки.
// Сумма меньше 100 не является ошибкой: распределение принимается с IsValid=false.
// IsValid требует суммы 100 с точностью 0.01 и отсутствия ошибок.
func (v *Validator) Validate(entries []Entry) Result {
	result := Result{Errors: []string{}, Warnings: []string{}, Total: decimal.Zero}
	if len(entries) == 0 {
		result.Errors = append(result.Errors, "routing entries must not be empty")
		return result
	}

	for _, e := range entries {
		if !e.Percentage.IsPositive() || e.Percentage.GreaterThan(hundred) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("percentage of account %s must be greater than 0 and at most 100", e.AccountID))
		}
	}

	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		seen[e.AccountID]++
		if seen[e.AccountID] == 2 {
			result.Errors = append(result.Errors,
				fmt.Sprintf("account %s appears more than once", e.AccountID))
		}
	}

	for _, e := range entries {
		result.Total = result.Total.Add(e.Percentage)
	}
	if result.Total.GreaterThan(hundred.Add(tolerance)) {
		result.Errors = append(result.Errors,
			fmt.Sprintf("sum of percentages (%s%%) must not exceed 100%%", result.Total.StringFixed(2)))
	}

	if v.catalog != nil {
		for _, e := range entries {
			if !v.catalog.Supports(e.BankCode) {
				result.Errors = append(result.Errors,
					fmt.Sprintf("bank %q of account %s is not supported", e.BankCode, e.AccountID))
			}
		}
	}

	complete := result.Total.Sub(hundred).Abs().LessThan(tolerance)
	result.IsValid = complete && len(result.Errors) == 0
	if result.Total.LessThan(hundred) && !complete {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("sum of percentages is %s%% (expected 100%%)", result.Total.StringFixed(2)))
	}
	return result
}

// Configuration принятое распределение клиента
type Configuration struct {
	ClientID string          `json:"client_id"`
	Entries  []Entry         `json:"entries"`
	Total    decimal.Decimal `json:"total_percentage"`
	IsValid  bool            `json:"is_valid"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Configure проверяет распределение и строит конфигурацию клиента.
// Ошибки проверки возвращаются как *ValidationError.
func (v *Validator) Configure(clientID string, entries []Entry) (*Configuration, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, core.NewError(core.CodeValidation, "client_id is required")
	}
	result := v.Validate(entries)
	if !result.OK() {
		return nil, &ValidationError{Errors: result.Errors}
	}
	cfg := &Configuration{
		ClientID: clientID,
		Entries:  make([]Entry, len(entries)),
		Total:    result.Total,
		IsValid:  result.IsValid,
		Warnings: result.Warnings,
	}
	for i, e := range entries {
		e.BankCode = normalizeCode(e.BankCode)
		cfg.Entries[i] = e
	}
	return cfg, nil
}

// SelectAccount выбирает счет случайно, пропорционально долям.
// Пустой bankCode означает любой банк.
func SelectAccount(cfg *Configuration, bankCode string, rnd *rand.Rand) (Entry, error) {
	if cfg == nil {
		return Entry{}, ErrNoAccount
	}
	candidates := make([]Entry, 0, len(cfg.Entries))
	total := decimal.Zero
	for _, e := range cfg.Entries {
		if bankCode != "" && !strings.EqualFold(e.BankCode, bankCode) {
			continue
		}
		candidates = append(candidates, e)
		total = total.Add(e.Percentage)
	}
	if len(candidates) == 0 || !total.IsPositive() {
		return Entry{}, fmt.Errorf("client %s, bank %q: %w", cfg.ClientID, bankCode, ErrNoAccount)
	}

	point := decimal.NewFromFloat(rnd.Float64()).Mul(total)
	cumulative := decimal.Zero
	for _, e := range candidates {
		cumulative = cumulative.Add(e.Percentage)
		if point.LessThan(cumulative) {
			return e, nil
		}
	}
	return candidates[len(candidates)-1], nil
}

// IsValidationError проверяет, что err отказ в распределении
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
