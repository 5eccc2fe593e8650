// Package fsm предоставляет таблицу переходов конечного автомата.
// Таблица неизменяема после построения и безопасна для конкурентного чтения.
package fsm

import (
	"fmt"

	"github.com/akriventsev/psp-core/framework/core"
)

// Transition описание одного перехода
type Transition[S ~string, E ~string] struct {
	From  S
	Event E
	To    S
}

type transitionKey[S ~string, E ~string] struct {
	from  S
	event E
}

// Table таблица переходов автомата
type Table[S ~string, E ~string] struct {
	initial     S
	transitions map[transitionKey[S, E]]S
	states      map[S]struct{}
	outgoing    map[S]int
}

// NewTable строит таблицу переходов. Дублирующийся переход из одного
// состояния по одному событию является ошибкой конфигурации.
func NewTable[S ~string, E ~string](initial S, transitions ...Transition[S, E]) (*Table[S, E], error) {
	t := &Table[S, E]{
		initial:     initial,
		transitions: make(map[transitionKey[S, E]]S, len(transitions)),
		states:      map[S]struct{}{initial: {}},
		outgoing:    make(map[S]int),
	}
	for _, tr := range transitions {
		key := transitionKey[S, E]{from: tr.From, event: tr.Event}
		if _, exists := t.transitions[key]; exists {
			return nil, core.Errorf(core.CodeInvalidConfig, "duplicate transition %s --%s-->", tr.From, tr.Event)
		}
		t.transitions[key] = tr.To
		t.states[tr.From] = struct{}{}
		t.states[tr.To] = struct{}{}
		t.outgoing[tr.From]++
	}
	return t, nil
}

// MustTable аналог NewTable, паникующий при ошибке
func MustTable[S ~string, E ~string](initial S, transitions ...Transition[S, E]) *Table[S, E] {
	t, err := NewTable(initial, transitions...)
	if err != nil {
		panic(err)
	}
	return t
}

// Initial возвращает начальное состояние
func (t *Table[S, E]) Initial() S {
	return t.initial
}

// Fire возвращает целевое состояние для события или ошибку класса core.ErrInvariantViolation
func (t *Table[S, E]) Fire(from S, event E) (S, error) {
	to, ok := t.transitions[transitionKey[S, E]{from: from, event: event}]
	if !ok {
		return from, core.Errorf(core.CodeInvariantViolation, "transition %s --%s--> is not allowed", from, event)
	}
	return to, nil
}

// Can проверяет, разрешен ли переход
func (t *Table[S, E]) Can(from S, event E) bool {
	_, ok := t.transitions[transitionKey[S, E]{from: from, event: event}]
	return ok
}

// Known проверяет, встречается ли состояние в таблице
func (t *Table[S, E]) Known(state S) bool {
	_, ok := t.states[state]
	return ok
}

// IsTerminal проверяет, что из состояния нет переходов
func (t *Table[S, E]) IsTerminal(state S) bool {
	return t.Known(state) && t.outgoing[state] == 0
}

// String возвращает краткое описание таблицы
func (t *Table[S, E]) String() string {
	return fmt.Sprintf("fsm(initial=%s, states=%d, transitions=%d)", t.initial, len(t.states), len(t.transitions))
}
