package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/relay/session"
)

// fakePostgREST serves the browser_sessions table from memory.
type fakePostgREST struct {
	mu      sync.Mutex
	rows    map[string]session.Info
	gets    int
	upserts []*http.Request
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/rest/v1/browser_sessions" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var info session.Info
		if err := json.Unmarshal(body, &info); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.rows[info.ID] = info
		f.upserts = append(f.upserts, r)
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		f.gets++
		out := []session.Info{}
		id := r.URL.Query().Get("session_id")
		if info, ok := f.rows[id[len("eq."):]]; ok {
			out = append(out, info)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*Client, *fakePostgREST) {
	t.Helper()
	fake := &fakePostgREST{rows: make(map[string]session.Info)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL, APIKey: "test-key", CacheTTL: time.Minute})
	require.NoError(t, err)
	return c, fake
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://localhost"})
	assert.Error(t, err)
}

func TestSaveSessionUpserts(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	info := session.Info{ID: "abc", CustomerDomain: "example.com", CompanyName: "Acme"}
	require.NoError(t, c.SaveSession(ctx, info))

	require.Len(t, fake.upserts, 1)
	assert.Equal(t, "session_id", fake.upserts[0].URL.Query().Get("on_conflict"))
	assert.Contains(t, fake.upserts[0].Header.Get("Prefer"), "resolution=merge-duplicates")
	assert.Equal(t, "Acme", fake.rows["abc"].CompanyName)

	// Served from cache.
	got, err := c.GetSession(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "example.com", got.CustomerDomain)
	assert.Zero(t, fake.gets)
}

func TestGetSessionQueriesAndCaches(t *testing.T) {
	c, fake := newTestClient(t)
	fake.rows["xyz"] = session.Info{ID: "xyz", CustomerName: "Jo"}
	ctx := context.Background()

	got, err := c.GetSession(ctx, "xyz")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Jo", got.CustomerName)

	_, err = c.GetSession(ctx, "xyz")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.gets)

	missing, err := c.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCacheExpires(t *testing.T) {
	c, fake := newTestClient(t)
	now := time.Now()
	c.now = func() time.Time { return now }
	fake.rows["s"] = session.Info{ID: "s"}
	ctx := context.Background()

	_, err := c.GetSession(ctx, "s")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = c.GetSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.gets)
}
