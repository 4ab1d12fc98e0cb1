package poll

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/crosstalk/internal/backend"
	"github.com/lalith-99/crosstalk/internal/models"
)

func testCred(host string) *models.Credential {
	return &models.Credential{
		Kind:        models.KindPoll,
		TeamID:      host,
		TeamName:    host,
		UserID:      "me1",
		UserName:    "boz",
		Host:        host,
		AccessToken: "pat-test",
	}
}

func testDriver(t *testing.T, mux *http.ServeMux) (*Driver, *models.Credential) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	addr := strings.TrimPrefix(srv.URL, "http://")
	return NewForTest(addr, zap.NewNop()), testCred(addr)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestConnectValidatesCredential(t *testing.T) {
	meCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		meCalls++
		assert.Equal(t, "Bearer pat-test", r.Header.Get("Authorization"))
		writeJSON(t, w, map[string]any{"id": "me1", "username": "boz"})
	})
	d, cred := testDriver(t, mux)

	ctx := context.Background()
	require.NoError(t, d.Connect(ctx, cred))
	require.NoError(t, d.Connect(ctx, cred)) // idempotent, no second round trip
	assert.Equal(t, 1, meCalls)
}

func TestConnectRejected(t *testing.T) {
	// A 401 means the token itself is bad: that is an auth failure, not a
	// plain connect failure.
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(t, w, map[string]any{"status_code": 401, "message": "Invalid or expired session"})
	})
	d, cred := testDriver(t, mux)

	err := d.Connect(context.Background(), cred)
	var ae *backend.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Err.Error(), "Invalid or expired session")
}

func TestConnectServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(t, w, map[string]any{"status_code": 500, "message": "maintenance"})
	})
	d, cred := testDriver(t, mux)

	err := d.Connect(context.Background(), cred)
	var ce *backend.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Err.Error(), "maintenance")
}

func TestAuthorizeStaticToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pat-static", r.Header.Get("Authorization"))
		writeJSON(t, w, map[string]any{
			"id": "me1", "username": "boz",
			"first_name": "Bozley", "last_name": "Zarf",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")
	d := NewForTest(addr, zap.NewNop())

	cred, err := d.Authorize(context.Background(), backend.AuthRequest{
		Host:        addr,
		StaticToken: "pat-static",
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindPoll, cred.Kind)
	assert.Equal(t, addr, cred.TeamID)
	assert.Equal(t, "boz", cred.UserName)
	assert.Equal(t, "pat-static", cred.AccessToken)
}

func TestAuthorizeNeedsHost(t *testing.T) {
	d := New(zap.NewNop())
	_, err := d.Authorize(context.Background(), backend.AuthRequest{StaticToken: "x"})
	var ae *backend.AuthError
	assert.ErrorAs(t, err, &ae)
}

func TestSendMessageEncodes(t *testing.T) {
	var got map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"id": "me1", "username": "boz"})
	})
	mux.HandleFunc("/api/v4/posts", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		writeJSON(t, w, map[string]any{"id": "p1"})
	})
	d, cred := testDriver(t, mux)
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx, cred))

	require.NoError(t, d.SendMessage(ctx, "ch1", "a <b> & c"))
	assert.Equal(t, "ch1", got["channel_id"])
	assert.Equal(t, "a &lt;b&gt; &amp; c", got["message"])
}

func TestSendMessageNotConnected(t *testing.T) {
	d := New(zap.NewNop())
	err := d.SendMessage(context.Background(), "ch1", "hi")
	assert.ErrorIs(t, err, backend.ErrNotConnected)
}

func TestFetchDirectory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"id": "me1", "username": "boz"})
	})
	mux.HandleFunc("/api/v4/users", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "0" {
			writeJSON(t, w, []map[string]any{
				{"id": "me1", "username": "boz", "first_name": "Bozley", "last_name": "Zarf"},
				{"id": "u2", "username": "mika"},
			})
			return
		}
		writeJSON(t, w, []map[string]any{})
	})
	mux.HandleFunc("/api/v4/users/me/teams", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"id": "st1", "name": "eng", "display_name": "Engineering"},
			{"id": "st2", "name": "ops", "display_name": "Operations"},
		})
	})
	mux.HandleFunc("/api/v4/users/me/teams/st1/channels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"id": "ch1", "name": "town-square", "type": "O"},
			{"id": "ch2", "name": "backstage", "type": "P"},
			{"id": "dm1", "name": "me1__u2", "type": "D"},
		})
	})
	mux.HandleFunc("/api/v4/users/me/teams/st2/channels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"id": "ch3", "name": "town-square", "type": "O"},
		})
	})
	mux.HandleFunc("/api/v4/teams/st1/channels", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "0" {
			writeJSON(t, w, []map[string]any{
				{"id": "ch4", "name": "announcements", "type": "O"},
				{"id": "ch1", "name": "town-square", "type": "O"}, // already a member
			})
			return
		}
		writeJSON(t, w, []map[string]any{})
	})
	mux.HandleFunc("/api/v4/teams/st2/channels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{})
	})
	d, cred := testDriver(t, mux)
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx, cred))

	channels, users, err := d.FetchDirectory(ctx)
	require.NoError(t, err)

	byID := map[string]models.Channel{}
	for _, ch := range channels {
		byID[ch.ID] = ch
	}
	require.Len(t, byID, 5)

	// Two subteams on the host, so names carry the subteam prefix.
	assert.Equal(t, "eng/town-square", byID["ch1"].Name)
	assert.Equal(t, "ops/town-square", byID["ch3"].Name)
	assert.Equal(t, models.ChannelPrivate, byID["ch2"].Kind)
	assert.True(t, byID["ch1"].Member)
	assert.False(t, byID["ch4"].Member)

	// The DM channel is named after the peer extracted from "me1__u2".
	assert.Equal(t, "@mika", byID["dm1"].Name)
	assert.Equal(t, "u2", byID["dm1"].PeerUserID)

	require.Len(t, users, 2)
	assert.Equal(t, "Bozley Zarf", users[0].RealName)
	assert.Equal(t, "dm1", users[1].DMChannelID)
}

func TestFetchHistorySinceAndOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"id": "me1", "username": "boz"})
	})
	mux.HandleFunc("/api/v4/channels/ch1/posts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "60000", r.URL.Query().Get("since"))
		writeJSON(t, w, map[string]any{
			// Newest first on the wire.
			"order": []string{"p3", "p2", "p1"},
			"posts": map[string]any{
				"p1": map[string]any{"id": "p1", "user_id": "u2", "channel_id": "ch1",
					"message": "first &amp; foremost", "create_at": 70000},
				"p2": map[string]any{"id": "p2", "user_id": "u2", "channel_id": "ch1",
					"message": "second", "create_at": 80000},
				"p3": map[string]any{"id": "p3", "user_id": "me1", "channel_id": "ch1",
					"message": "third", "create_at": 90000},
			},
		})
	})
	d, cred := testDriver(t, mux)
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx, cred))

	events, err := d.FetchHistory(ctx, "ch1", time.UnixMilli(60000), time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "first & foremost", events[0].Text)
	assert.Equal(t, "third", events[2].Text)
	assert.Equal(t, time.UnixMilli(70000), events[0].Timestamp)
}

func TestFetchAttachment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"id": "me1", "username": "boz"})
	})
	mux.HandleFunc("/api/v4/files/f1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pat-test", r.Header.Get("Authorization"))
		w.Write([]byte("payload-bytes"))
	})
	d, cred := testDriver(t, mux)
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx, cred))

	ev := &models.MessageEvent{Attachments: []models.Attachment{{FileID: "f1", Name: "pic.png"}}}

	dat, err := d.FetchAttachment(ctx, ev, 0)
	require.NoError(t, err)
	assert.Equal(t, "payload-bytes", string(dat))

	_, err = d.FetchAttachment(ctx, ev, 5)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestDMPeer(t *testing.T) {
	peer, ok := dmPeer("me1__u2", "me1")
	require.True(t, ok)
	assert.Equal(t, "u2", peer)

	peer, ok = dmPeer("u2__me1", "me1")
	require.True(t, ok)
	assert.Equal(t, "u2", peer)

	_, ok = dmPeer("u2__u3", "me1")
	assert.False(t, ok)
	_, ok = dmPeer("not-a-dm", "me1")
	assert.False(t, ok)
}
