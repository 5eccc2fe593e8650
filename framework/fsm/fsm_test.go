package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/psp-core/framework/core"
)

type light string
type signal string

const (
	red    light  = "red"
	green  light  = "green"
	broken light  = "broken"
	next   signal = "next"
	smash  signal = "smash"
)

func lights() *Table[light, signal] {
	return MustTable(red,
		Transition[light, signal]{From: red, Event: next, To: green},
		Transition[light, signal]{From: green, Event: next, To: red},
		Transition[light, signal]{From: red, Event: smash, To: broken},
	)
}

func TestTable_Fire(t *testing.T) {
	table := lights()
	to, err := table.Fire(red, next)
	require.NoError(t, err)
	assert.Equal(t, green, to)

	to, err = table.Fire(green, smash)
	assert.ErrorIs(t, err, core.ErrInvariantViolation)
	assert.Equal(t, green, to)
}

func TestTable_Terminal(t *testing.T) {
	table := lights()
	assert.Equal(t, red, table.Initial())
	assert.True(t, table.IsTerminal(broken))
	assert.False(t, table.IsTerminal(red))
	assert.False(t, table.IsTerminal("unknown"))
	assert.True(t, table.Can(red, smash))
	assert.False(t, table.Can(broken, next))
}

func TestTable_DuplicateTransition(t *testing.T) {
	_, err := NewTable(red,
		Transition[light, signal]{From: red, Event: next, To: green},
		Transition[light, signal]{From: red, Event: next, To: broken},
	)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Panics(t, func() {
		MustTable(red,
			Transition[light, signal]{From: red, Event: next, To: green},
			Transition[light, signal]{From: red, Event: next, To: green},
		)
	})
}
