package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_PartitionsAndSortsNewestFirst(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	lunch := "Lunch"
	records := []Location{
		{ID: "a1", UserID: "alice", Timestamp: base},
		{ID: "m1", UserID: "alice", Timestamp: base.Add(time.Minute), Name: &lunch, IsCustomMarker: true},
		{ID: "a2", UserID: "alice", Timestamp: base.Add(2 * time.Minute)},
		{ID: "b1", UserID: "bob", Timestamp: base.Add(30 * time.Second)},
	}

	g := Group(records)

	require.Len(t, g.CustomMarkers, 1)
	assert.Equal(t, "m1", g.CustomMarkers[0].ID)

	require.Len(t, g.UserLocations, 2)
	require.Len(t, g.UserLocations["alice"], 2)
	assert.Equal(t, "a2", g.UserLocations["alice"][0].ID, "index 0 must be the most recent record")
	assert.Equal(t, "a1", g.UserLocations["alice"][1].ID)
	assert.Equal(t, "b1", g.UserLocations["bob"][0].ID)
}

func TestGroup_Empty(t *testing.T) {
	g := Group(nil)
	assert.NotNil(t, g.CustomMarkers)
	assert.Empty(t, g.CustomMarkers)
	assert.Empty(t, g.UserLocations)
}
