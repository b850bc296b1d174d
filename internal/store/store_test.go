package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHistoryRoundTrip(t *testing.T) {
	s := openTestStore(t)

	id, err := s.AddHistory("2026-08-20", map[string]int{"milk": 2, "eggs": 6})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = s.AddHistory("2026-08-25", map[string]int{"milk": 0, "eggs": 3})
	require.NoError(t, err)

	entries, err := s.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first: the first entry is the current fridge state.
	assert.Equal(t, "2026-08-25", entries[0].Date)
	assert.Equal(t, map[string]int{"milk": 0, "eggs": 3}, entries[0].Items)
	assert.Equal(t, "2026-08-20", entries[1].Date)
}

func TestHistorySameDateTieBreak(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddHistory("2026-08-25", map[string]int{"milk": 2})
	require.NoError(t, err)
	_, err = s.AddHistory("2026-08-25", map[string]int{"milk": 1})
	require.NoError(t, err)

	entries, err := s.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Later insert wins the first line.
	assert.Equal(t, map[string]int{"milk": 1}, entries[0].Items)
}

func TestHistoryLimit(t *testing.T) {
	s := openTestStore(t)
	for _, date := range []string{"2026-08-01", "2026-08-02", "2026-08-03"} {
		_, err := s.AddHistory(date, map[string]int{"milk": 1})
		require.NoError(t, err)
	}
	entries, err := s.GetHistory(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-08-03", entries[0].Date)
}

func TestDeleteHistory(t *testing.T) {
	s := openTestStore(t)

	id, err := s.AddHistory("2026-08-20", map[string]int{"milk": 1})
	require.NoError(t, err)

	deleted, err := s.DeleteHistory(id)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteHistory(id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestClearHistory(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddHistory("2026-08-20", map[string]int{"milk": 1})
	require.NoError(t, err)
	_, err = s.AddHistory("2026-08-21", map[string]int{"eggs": 6})
	require.NoError(t, err)

	n, err := s.ClearHistory()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := s.GetHistory(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHistoryContext(t *testing.T) {
	s := openTestStore(t)

	assert.Equal(t, "No previous fridge history available.", s.HistoryContext(10))

	_, err := s.AddHistory("2026-08-20", map[string]int{"milk": 2, "eggs": 6})
	require.NoError(t, err)
	_, err = s.AddHistory("2026-08-25", map[string]int{"milk": 0})
	require.NoError(t, err)

	got := s.HistoryContext(10)
	want := "- Aug 25: milk x0\n- Aug 20: eggs x6, milk x2"
	assert.Equal(t, want, got)
}

func TestPreferencesDefaults(t *testing.T) {
	s := openTestStore(t)

	prefs, err := s.GetPreferences()
	require.NoError(t, err)
	assert.Equal(t, "smart", prefs.DefaultMode)
	assert.Equal(t, "getir", prefs.PreferredProvider)
	assert.InDelta(t, 0.5, prefs.DetectionThreshold, 1e-9)
	assert.Empty(t, prefs.CustomInstructions)
}

func TestSetPreferences(t *testing.T) {
	s := openTestStore(t)

	p := Preferences{
		CustomInstructions: "prefer organic",
		DefaultMode:        "simple",
		PreferredProvider:  "migros",
		DetectionThreshold: 0.7,
	}
	require.NoError(t, s.SetPreferences(p))

	got, err := s.GetPreferences()
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestSetPreferencesInvalidMode(t *testing.T) {
	s := openTestStore(t)
	err := s.SetPreferences(Preferences{DefaultMode: "yolo"})
	require.Error(t, err)
}

func TestPreferencesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fridge.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetPreferences(Preferences{DefaultMode: "simple", PreferredProvider: "akbal", DetectionThreshold: 0.3}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetPreferences()
	require.NoError(t, err)
	assert.Equal(t, "simple", got.DefaultMode)
	assert.Equal(t, "akbal", got.PreferredProvider)
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "Aug 05", formatDate("2026-08-05"))
	assert.Equal(t, "not-a-date", formatDate("not-a-date"))
}
