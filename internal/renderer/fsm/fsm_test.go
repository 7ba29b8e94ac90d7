// SPDX-License-Identifier: MIT

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	st string
	ev string
)

func newTestMachine(t *testing.T) *Machine[st, ev] {
	t.Helper()
	m, err := New(st("idle"), []Transition[st, ev]{
		{From: "idle", Event: "start", To: "running"},
		{From: "running", Event: "stop", To: "idle"},
	})
	require.NoError(t, err)
	return m
}

func TestFire_ValidTransitions(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	next, err := m.Fire(ctx, "start")
	require.NoError(t, err)
	assert.Equal(t, st("running"), next)

	next, err = m.Fire(ctx, "stop")
	require.NoError(t, err)
	assert.Equal(t, st("idle"), next)
}

func TestFire_InvalidTransition(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Fire(context.Background(), "stop")
	assert.Error(t, err)
	assert.Equal(t, st("idle"), m.State(), "state unchanged on invalid event")
}

func TestFire_GuardBlocks(t *testing.T) {
	guardErr := errors.New("not allowed")
	m, err := New(st("idle"), []Transition[st, ev]{
		{From: "idle", Event: "start", To: "running",
			Guard: func(context.Context, st, ev) error { return guardErr }},
	})
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), "start")
	assert.ErrorIs(t, err, guardErr)
	assert.Equal(t, st("idle"), m.State())
}

func TestNew_RejectsDuplicateEdges(t *testing.T) {
	_, err := New(st("a"), []Transition[st, ev]{
		{From: "a", Event: "e", To: "b"},
		{From: "a", Event: "e", To: "c"},
	})
	assert.Error(t, err)
}
