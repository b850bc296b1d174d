package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionBlobRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "getir_session.json")
	blob := sessionBlob{
		Provider: "getir",
		SavedAt:  time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC),
		Cookies: []*proto.NetworkCookieParam{
			{
				Name:     "auth_token",
				Value:    "abc123",
				Domain:   ".getir.com",
				Path:     "/",
				Expires:  proto.TimeSinceEpoch(1790000000),
				HTTPOnly: true,
				Secure:   true,
				SameSite: proto.NetworkCookieSameSiteLax,
			},
			{
				Name:   "locale",
				Value:  "tr",
				Domain: ".getir.com",
				Path:   "/",
			},
		},
		Storage: storageSnapshot{
			Local:   map[string]string{"token": "xyz", "basket_id": "42"},
			Session: map[string]string{"last_search": "süt"},
		},
	}

	require.NoError(t, writeSessionBlob(path, blob))

	got, err := loadSessionBlob(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "getir", got.Provider)
	assert.True(t, blob.SavedAt.Equal(got.SavedAt))
	require.Len(t, got.Cookies, 2)
	assert.Equal(t, blob.Cookies[0], got.Cookies[0])
	assert.Equal(t, blob.Cookies[1], got.Cookies[1])
	assert.Equal(t, blob.Storage, got.Storage)
}

func TestLoadSessionBlobMissingFile(t *testing.T) {
	got, err := loadSessionBlob(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadSessionBlobCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := loadSessionBlob(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode session blob")
}
