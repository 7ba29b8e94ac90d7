// SPDX-License-Identifier: MIT

package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idx(i int) *int { return &i }

// Current index 0, refresh drifts the
// session-token query string on the current track's URI and drops the
// second track entirely, replacing it with a new one. The current
// track must not be duplicated, and must still be found by its DIDL id.
func TestReconcile_URIDrift(t *testing.T) {
	current := QueueSnapshot{
		Items: []PlaybackItem{
			{BackendID: 1, URI: "a?tok=1", DIDLID: "X"},
			{BackendID: 2, URI: "b?tok=1", DIDLID: "Y"},
		},
		CurrentIndex: idx(0),
	}
	next := []PlaybackItem{
		{URI: "a?tok=2", DIDLID: "X"},
		{URI: "c?tok=2", DIDLID: "Z"},
	}

	result, _ := Reconcile(current, next)

	require.NotNil(t, result.CurrentIndex)
	assert.Equal(t, 0, *result.CurrentIndex)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "X", result.Items[0].DIDLID)
	assert.Equal(t, "Z", result.Items[1].DIDLID)
	assert.Equal(t, uint32(1), result.Items[0].BackendID, "backend id of the matched current track must be preserved")
}

// P4: current_index is always None or within 0..items.len().
func TestReconcile_P4_IndexAlwaysInRange(t *testing.T) {
	current := QueueSnapshot{
		Items:        []PlaybackItem{{DIDLID: "A"}, {DIDLID: "B"}},
		CurrentIndex: idx(5), // out of range, misbehaving backend
	}
	result, _ := Reconcile(current, []PlaybackItem{{DIDLID: "A"}})
	if result.CurrentIndex != nil {
		assert.GreaterOrEqual(t, *result.CurrentIndex, 0)
		assert.Less(t, *result.CurrentIndex, len(result.Items))
	}
}

// P5: if the pre-current item exists by identity in next, it appears
// exactly once in the result with its backend_id unchanged.
func TestReconcile_P5_MatchedCurrentPreserved(t *testing.T) {
	current := QueueSnapshot{
		Items: []PlaybackItem{
			{BackendID: 10, DIDLID: "A"},
			{BackendID: 11, DIDLID: "B"},
			{BackendID: 12, DIDLID: "C"},
		},
		CurrentIndex: idx(1),
	}
	next := []PlaybackItem{{DIDLID: "B"}, {DIDLID: "D"}, {DIDLID: "C"}}

	result, _ := Reconcile(current, next)

	count := 0
	var backendID uint32
	for _, it := range result.Items {
		if it.DIDLID == "B" {
			count++
			backendID = it.BackendID
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, uint32(11), backendID)
}

// P6: if pre-current is absent from next, it appears exactly once, at
// position 0.
func TestReconcile_P6_AbsentCurrentPreservedAtZero(t *testing.T) {
	current := QueueSnapshot{
		Items: []PlaybackItem{
			{BackendID: 1, DIDLID: "A"},
			{BackendID: 2, DIDLID: "B"},
		},
		CurrentIndex: idx(0),
	}
	next := []PlaybackItem{{DIDLID: "C"}, {DIDLID: "D"}}

	result, _ := Reconcile(current, next)

	require.NotNil(t, result.CurrentIndex)
	assert.Equal(t, 0, *result.CurrentIndex)
	count := 0
	for _, it := range result.Items {
		if it.DIDLID == "A" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, "A", result.Items[0].DIDLID)
}

func TestReconcile_NoCurrentReplacesWholesale(t *testing.T) {
	current := QueueSnapshot{
		Items:        []PlaybackItem{{DIDLID: "A"}},
		CurrentIndex: nil,
	}
	next := []PlaybackItem{{DIDLID: "B"}, {DIDLID: "C"}}

	result, ops := Reconcile(current, next)

	assert.Nil(t, result.CurrentIndex)
	assert.Equal(t, next, result.Items)
	require.Len(t, ops, 3) // delete A, insert B, insert C
	assert.Equal(t, OpDelete, ops[0].Kind)
	assert.Equal(t, OpInsert, ops[1].Kind)
	assert.Equal(t, OpInsert, ops[2].Kind)
}

func TestLCSDiff_MinimalOps(t *testing.T) {
	cur := []PlaybackItem{{BackendID: 1, DIDLID: "A"}, {BackendID: 2, DIDLID: "B"}, {BackendID: 3, DIDLID: "C"}}
	next := []PlaybackItem{{DIDLID: "A"}, {DIDLID: "C"}}

	ops, merged := LCSDiff(cur, next)

	require.Len(t, merged, 2)
	assert.Equal(t, uint32(1), merged[0].BackendID)
	assert.Equal(t, uint32(3), merged[1].BackendID)

	var deletes, keeps int
	for _, op := range ops {
		switch op.Kind {
		case OpDelete:
			deletes++
		case OpKeep:
			keeps++
		}
	}
	assert.Equal(t, 1, deletes) // only B is dropped
	assert.Equal(t, 2, keeps)
}
