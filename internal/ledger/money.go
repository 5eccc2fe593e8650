// Package ledger содержит денежный value object и агрегат счета клиента.
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/akriventsev/psp-core/framework/core"
)

// DefaultCurrency валюта по умолчанию
const DefaultCurrency = "BRL"

// moneyScale число знаков после запятой
const moneyScale = 2

// Money неизменяемая неотрицательная денежная сумма с валютой.
// Сумма округляется до двух знаков (половина от нуля), валюта в верхнем регистре.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney создает сумму; отрицательная сумма является ошибкой валидации
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if amount.IsNegative() {
		return Money{}, core.Errorf(core.CodeValidation, "amount cannot be negative: %s", amount.String())
	}
	return Money{amount: amount.Round(moneyScale), currency: currency}, nil
}

// ParseMoney разбирает десятичную строку
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, core.Wrap(err, core.CodeValidation, fmt.Sprintf("invalid amount %q", amount))
	}
	return NewMoney(d, currency)
}

// MustMoney аналог ParseMoney, паникующий при ошибке
func MustMoney(amount, currency string) Money {
	m, err := ParseMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero нулевая сумма в валюте
func Zero(currency string) Money {
	m, _ := NewMoney(decimal.Zero, currency)
	return m
}

// Amount возвращает сумму
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency возвращает код валюты
func (m Money) Currency() string {
	return m.currency
}

// IsZero проверяет нулевую сумму
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// IsPositive проверяет, что сумма больше нуля
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// Add складывает суммы одной валюты
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.amount.Add(other.amount), m.currency)
}

// Sub вычитает сумму; отрицательный результат является ошибкой
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.amount.Sub(other.amount), m.currency)
}

// LessThan сравнивает суммы одной валюты
func (m Money) LessThan(other Money) bool {
	return m.amount.LessThan(other.amount)
}

// Equal сравнивает сумму и валюту
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m Money) String() string {
	return m.amount.StringFixed(moneyScale) + " " + m.currency
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return core.Errorf(core.CodeValidation, "currency mismatch: %s vs %s", m.currency, other.currency)
	}
	return nil
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON кодирует сумму строкой с двумя знаками
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.StringFixed(moneyScale), Currency: m.currency})
}

// UnmarshalJSON декодирует сумму, применяя те же правила, что и NewMoney
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
