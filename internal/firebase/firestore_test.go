package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// fakeFirestore keeps documents as raw field maps keyed by path suffix
type fakeFirestore struct {
	mu      sync.Mutex
	docs    map[string]map[string]any
	patches []string
}

func (f *fakeFirestore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := strings.Index(r.URL.Path, "/documents/")
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	key := r.URL.Path[i+len("/documents/"):]

	switch r.Method {
	case http.MethodGet:
		fields, ok := f.docs[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found","status":"NOT_FOUND"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"name": key, "fields": fields})
	case http.MethodPatch:
		body, _ := io.ReadAll(r.Body)
		var doc struct {
			Fields map[string]any `json:"fields"`
		}
		_ = json.Unmarshal(body, &doc)
		cur := f.docs[key]
		if cur == nil {
			cur = map[string]any{}
		}
		for k, v := range doc.Fields {
			cur[k] = v
		}
		f.docs[key] = cur
		f.patches = append(f.patches, key+"?"+r.URL.Query().Encode())
		_ = json.NewEncoder(w).Encode(map[string]any{"name": key, "fields": cur})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestLimitStore(t *testing.T) (*LimitStore, *fakeFirestore) {
	t.Helper()
	fake := &fakeFirestore{docs: map[string]map[string]any{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "id-token"})
	store, err := NewLimitStore(context.Background(), "demo", ts,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return store, fake
}

func TestNewLimitStore_EmptyProject(t *testing.T) {
	_, err := NewLimitStore(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestLimitStore_DailyLimit(t *testing.T) {
	store, fake := newTestLimitStore(t)
	ctx := context.Background()

	_, err := store.DailyLimit(ctx, "uid-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.SetDailyLimit(ctx, "uid-1", 20))
	got, err := store.DailyLimit(ctx, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, 20, got)

	require.Len(t, fake.patches, 1)
	assert.Contains(t, fake.patches[0], "users/uid-1?")
	assert.Contains(t, fake.patches[0], "updateMask.fieldPaths=dailyLimit")
}

func TestLimitStore_DailyLimitMissingField(t *testing.T) {
	store, fake := newTestLimitStore(t)
	fake.docs["users/uid-1"] = map[string]any{"other": map[string]any{"stringValue": "x"}}

	_, err := store.DailyLimit(context.Background(), "uid-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLimitStore_Usage(t *testing.T) {
	store, fake := newTestLimitStore(t)
	ctx := context.Background()

	_, err := store.Usage(ctx, "uid-1", "2026-10-19")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.SetUsage(ctx, "uid-1", "2026-10-19", UsageRecord{Count: 3, Limit: 30}))
	require.NoError(t, store.SetUsage(ctx, "uid-1", "2026-10-19", UsageRecord{Count: 4}, "count"))

	rec, err := store.Usage(ctx, "uid-1", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, UsageRecord{Count: 4, Limit: 30}, rec)
	assert.Contains(t, fake.patches[1], "users/uid-1/usage/2026-10-19?")

	err = store.SetUsage(ctx, "uid-1", "2026-10-19", UsageRecord{}, "bogus")
	assert.Error(t, err)
}
