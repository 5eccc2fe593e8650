package routing

import (
	"sort"
	"strings"
)

// Bank банк-получатель, доступный для маршрутизации
type Bank struct {
	Code      string
	Name      string
	Supported bool
}

// BankCatalog неизменяемый справочник банков, передается компонентам явно
type BankCatalog struct {
	banks map[string]Bank
}

// NewBankCatalog строит справочник; коды приводятся к верхнему регистру
func NewBankCatalog(banks ...Bank) *BankCatalog {
	c := &BankCatalog{banks: make(map[string]Bank, len(banks))}
	for _, b := range banks {
		b.Code = normalizeCode(b.Code)
		c.banks[b.Code] = b
	}
	return c
}

// DefaultBankCatalog справочник банков по умолчанию
func DefaultBankCatalog() *BankCatalog {
	return NewBankCatalog(
		Bank{Code: "STARK", Name: "Stark Bank", Supported: true},
		Bank{Code: "SICOOB", Name: "Sicoob", Supported: true},
		Bank{Code: "GENIAL", Name: "Banco Genial", Supported: true},
		Bank{Code: "EFI", Name: "Efí (Gerencianet)", Supported: true},
		Bank{Code: "CELCOIN", Name: "Celcoin", Supported: true},
	)
}

// Lookup ищет банк по коду без учета регистра
func (c *BankCatalog) Lookup(code string) (Bank, bool) {
	b, ok := c.banks[normalizeCode(code)]
	return b, ok
}

// Supports проверяет, что банк известен и поддерживается
func (c *BankCatalog) Supports(code string) bool {
	b, ok := c.Lookup(code)
	return ok && b.Supported
}

// Codes возвращает отсортированные коды банков
func (c *BankCatalog) Codes() []string {
	codes := make([]string, 0, len(c.banks))
	for code := range c.banks {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
