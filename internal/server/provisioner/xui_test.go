package provisioner

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/logging"
	"github.com/mamyekta/novabot/internal/server/models"
)

type panelState struct {
	logins    int
	added     []string // emails
	deleted   []string // uuids
	delErrMsg string
}

func newPanel(t *testing.T, state *panelState) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		state.logins++
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "tok123", Expires: time.Now().Add(time.Hour)})
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	mux.HandleFunc("/panel/inbound/addClient", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "session=tok123" {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "msg": "unauthorized"})
			return
		}
		var payload struct {
			ID       int    `json:"id"`
			Settings string `json:"settings"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		var settings struct {
			Clients []xuiClient `json:"clients"`
		}
		require.NoError(t, json.Unmarshal([]byte(payload.Settings), &settings))
		require.Len(t, settings.Clients, 1)
		state.added = append(state.added, settings.Clients[0].Email)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	mux.HandleFunc("/panel/inbound/2/delClient/", func(w http.ResponseWriter, r *http.Request) {
		uuid := r.URL.Path[len("/panel/inbound/2/delClient/"):]
		if state.delErrMsg != "" {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "msg": state.delErrMsg})
			return
		}
		state.deleted = append(state.deleted, uuid)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	mux.HandleFunc("/panel/inbound/getClientTraffics/", func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Path[len("/panel/inbound/getClientTraffics/"):]
		if email == "7-100200300" {
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"obj":     trafficRow{Email: email, Up: 100, Down: 200, Total: 1000, Enable: true},
			})
			return
		}
		// the panel reports unknown emails as success with a null obj
		json.NewEncoder(w).Encode(map[string]any{"success": true, "obj": nil})
	})

	mux.HandleFunc("/db", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]trafficRow{
			{Email: "7-100200300", Up: 100, Down: 200, Total: 1000, Enable: true},
			{Email: "7-100200301", Up: 0, Down: 0, Total: 500, Enable: false},
		})
	})

	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, baseURL string) *XUIClient {
	t.Helper()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	c, err := NewXUIClient(XUIConfig{
		BaseURL:    baseURL,
		APIURL:     baseURL + "/panel/inbound",
		DBURL:      baseURL + "/db",
		SubURL:     "https://sub.example.com/sub",
		Username:   "admin",
		Password:   "secret",
		InboundIDs: []int{2},
	}, logger)
	require.NoError(t, err)
	return c
}

func TestXUIClient_CreateCredential_LogsInOnce(t *testing.T) {
	state := &panelState{}
	srv := newPanel(t, state)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	spec := models.CredentialSpec{
		ID: "uuid-1", Email: "7-100200300", SubID: "100200300",
		TrafficBytes: 15 << 30, ExpiryTime: time.Now().Add(30 * 24 * time.Hour), LimitIP: 1,
	}
	ref, err := c.CreateCredential(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, "uuid-1", ref.UUID)
	require.Equal(t, []string{"7-100200300"}, state.added)

	// second call reuses the session
	_, err = c.CreateCredential(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, 1, state.logins)
}

func TestXUIClient_DeleteCredential_AlreadyGoneIsSuccess(t *testing.T) {
	state := &panelState{delErrMsg: "client not found"}
	srv := newPanel(t, state)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.DeleteCredential(context.Background(), "uuid-gone"))
}

func TestXUIClient_DeleteCredential_OtherErrorPropagates(t *testing.T) {
	state := &panelState{delErrMsg: "database locked"}
	srv := newPanel(t, state)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.DeleteCredential(context.Background(), "uuid-1")
	require.ErrorIs(t, err, common.ErrProvisionerRejected)
}

func TestXUIClient_QueryUsage(t *testing.T) {
	state := &panelState{}
	srv := newPanel(t, state)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	usages, err := c.QueryUsage(context.Background(), "7-%")
	require.NoError(t, err)
	require.Len(t, usages, 2)
	require.Equal(t, int64(700), usages[0].RemainingBytes())
	require.False(t, usages[1].Enabled)
}

func TestXUIClient_GetUsage(t *testing.T) {
	state := &panelState{}
	srv := newPanel(t, state)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	usage, err := c.GetUsage(context.Background(), "7-100200300")
	require.NoError(t, err)
	require.Equal(t, int64(700), usage.RemainingBytes())
}

func TestXUIClient_GetUsage_MissingClient(t *testing.T) {
	state := &panelState{}
	srv := newPanel(t, state)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetUsage(context.Background(), "7-999999999")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestXUIClient_Unavailable(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	_, err := c.GetUsage(context.Background(), "7-1")
	require.ErrorIs(t, err, common.ErrProvisionerUnavailable)
}

func TestXUIClient_SubLink(t *testing.T) {
	c := newTestClient(t, "http://panel.local")
	require.Equal(t, "https://sub.example.com/sub/100200300", c.SubLink("100200300"))
}
