// Package transport предоставляет интерфейсы команд CQRS.
package transport

// Command представляет команду CQRS
type Command interface {
	CommandName() string
}

// ValidatableCommand команда, проверяющая собственные поля до выполнения
type ValidatableCommand interface {
	Command
	Validate() error
}

// AggregateCommand команда, адресованная конкретному агрегату
type AggregateCommand interface {
	Command
	AggregateID() string
}
