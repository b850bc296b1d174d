package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atakdnz/fridge-order-agent/internal/config"
	"github.com/atakdnz/fridge-order-agent/internal/detect"
	"github.com/atakdnz/fridge-order-agent/internal/llm"
	"github.com/atakdnz/fridge-order-agent/internal/policy"
	"github.com/atakdnz/fridge-order-agent/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "fridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	return New(cfg, st, policy.New(nil), detect.NewService(nil))
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestDetectWithoutImage(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader(""))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Missing []struct {
			Name     string `json:"name"`
			Quantity int    `json:"quantity"`
		} `json:"missing"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Missing, 4)
	assert.Equal(t, "Süt", resp.Missing[0].Name)
}

func TestHistoryEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/history", map[string]any{
		"date":  "2026-08-20",
		"items": map[string]int{"milk": 2},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID int64 `json:"id"`
	}
	decode(t, rec, &created)
	assert.Greater(t, created.ID, int64(0))

	rec = doJSON(t, s, http.MethodGet, "/api/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		History []store.HistoryEntry `json:"history"`
	}
	decode(t, rec, &list)
	require.Len(t, list.History, 1)
	assert.Equal(t, "2026-08-20", list.History[0].Date)

	rec = doJSON(t, s, http.MethodDelete, "/api/history/99999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/history/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/history", nil)
	decode(t, rec, &list)
	assert.Empty(t, list.History)
}

func TestHistoryAddValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/history", map[string]any{
		"date":  "20.08.2026",
		"items": map[string]int{"milk": 1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")

	rec = doJSON(t, s, http.MethodPost, "/api/history", map[string]any{
		"date": "2026-08-20",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreferencesEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/preferences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prefs store.Preferences
	decode(t, rec, &prefs)
	assert.Equal(t, "smart", prefs.DefaultMode)

	rec = doJSON(t, s, http.MethodPut, "/api/preferences", map[string]any{
		"custom_instructions": "prefer organic",
		"default_mode":        "simple",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/preferences", nil)
	decode(t, rec, &prefs)
	assert.Equal(t, "simple", prefs.DefaultMode)
	assert.Equal(t, "prefer organic", prefs.CustomInstructions)
	// Omitted fields keep their previous values.
	assert.Equal(t, "getir", prefs.PreferredProvider)

	rec = doJSON(t, s, http.MethodPut, "/api/preferences", map[string]any{
		"preferred_provider": "amazon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPut, "/api/preferences", map[string]any{
		"detection_threshold": 1.5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/order", map[string]any{
		"provider": "amazon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/order", map[string]any{
		"provider": "getir",
		"mode":     "turbo",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/order", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestOrderStatusUnknown(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/order/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/order/does-not-exist/confirm", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTranslations(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/translations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var terms map[string]string
	decode(t, rec, &terms)
	assert.Equal(t, "Süt", terms["milk"])
	assert.Equal(t, "Yumurta", terms["eggs"])
}

func TestSuggestionsWithoutLLM(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Suggestions []policy.Suggestion `json:"suggestions"`
	}
	decode(t, rec, &resp)
	assert.Empty(t, resp.Suggestions)
}

// countingClient records how many completions were requested.
type countingClient struct {
	calls int
}

func (c *countingClient) Complete(ctx context.Context, prompt string) (llm.Reply, error) {
	c.calls++
	return llm.Reply{Content: "[]"}, nil
}

func TestSuggestionsEmptyHistorySkipsAnalysis(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "fridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := &countingClient{}
	s := New(config.Default(), st, policy.New(client), detect.NewService(nil))

	rec := doJSON(t, s, http.MethodGet, "/api/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Suggestions []policy.Suggestion `json:"suggestions"`
	}
	decode(t, rec, &resp)
	assert.Empty(t, resp.Suggestions)
	assert.Equal(t, 0, client.calls, "empty history must not spend a completion")
}
