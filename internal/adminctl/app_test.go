package adminctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubPassword(t *testing.T, password string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(fd int) ([]byte, error) { return []byte(password), nil }
}

func TestLogin(t *testing.T) {
	stubPassword(t, "op-password")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/login", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["password"] != "op-password" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok123"})
	}))
	defer ts.Close()

	var out bytes.Buffer
	app := NewApp(ts.URL, &out)
	require.NoError(t, app.Run(context.Background(), []string{"login"}))
	assert.Contains(t, out.String(), "tok123")
}

func TestLogin_WrongPassword(t *testing.T) {
	stubPassword(t, "nope")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	app := NewApp(ts.URL, &bytes.Buffer{})
	assert.Error(t, app.Run(context.Background(), []string{"login"}))
}

func TestRetry(t *testing.T) {
	var gotAuth, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{"order_id": 123456789})
	}))
	defer ts.Close()

	var out bytes.Buffer
	app := NewApp(ts.URL, &out)
	require.NoError(t, app.Run(context.Background(), []string{"retry", "tok123", "123456789"}))
	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, "/admin/orders/123456789/retry", gotPath)
	assert.Contains(t, out.String(), "settled")
}

func TestHash(t *testing.T) {
	stubPassword(t, "hunter2")

	var out bytes.Buffer
	app := NewApp("http://unused", &out)
	require.NoError(t, app.Run(context.Background(), []string{"hash"}))
	assert.True(t, strings.HasPrefix(out.String(), "$2a$"), "bcrypt hash expected, got %q", out.String())
}

func TestUnknownCommand(t *testing.T) {
	app := NewApp("http://unused", &bytes.Buffer{})
	assert.Error(t, app.Run(context.Background(), []string{"bogus"}))
	assert.Error(t, app.Run(context.Background(), nil))
}
