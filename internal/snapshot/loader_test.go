package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/alert-feed/internal/api"
	"github.com/rickgao/alert-feed/internal/model"
)

// blockingFetcher returns queued responses, blocking each call until released.
type blockingFetcher struct {
	calls   chan struct{}
	release chan *api.Snapshot
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{
		calls:   make(chan struct{}, 10),
		release: make(chan *api.Snapshot, 10),
	}
}

func (f *blockingFetcher) GetAlerts(ctx context.Context, _ string) (*api.Snapshot, error) {
	f.calls <- struct{}{}
	select {
	case s := <-f.release:
		return s, nil
	case <-ctx.Done():
		return nil, &api.RequestError{Op: "get alerts", Kind: api.KindNetwork, Err: ctx.Err()}
	}
}

func TestLoader_NewerLoadSupersedesOlder(t *testing.T) {
	f := newBlockingFetcher()
	l := NewLoader(DefaultConfig(), f, nil)

	first := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), "42")
		first <- err
	}()
	<-f.calls

	second := make(chan *Snapshot, 1)
	go func() {
		snap, err := l.Load(context.Background(), "42")
		assert.NoError(t, err)
		second <- snap
	}()
	<-f.calls

	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("first load was not canceled")
	}

	f.release <- &api.Snapshot{Alerts: []api.APIAlert{{ID: "1"}}, Total: 1}
	select {
	case snap := <-second:
		require.NotNil(t, snap)
		assert.Len(t, snap.Alerts, 1)
		assert.Equal(t, uint64(2), snap.Generation)
		assert.Equal(t, l.Generation(), snap.Generation)
	case <-time.After(time.Second):
		t.Fatal("second load did not complete")
	}
}

func TestLoader_Cancel(t *testing.T) {
	f := newBlockingFetcher()
	l := NewLoader(DefaultConfig(), f, nil)

	done := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), "42")
		done <- err
	}()
	<-f.calls

	l.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("load was not canceled")
	}

	// Cancel with nothing in flight is harmless.
	l.Cancel()
}

func TestLoader_Timeout(t *testing.T) {
	f := newBlockingFetcher()
	l := NewLoader(Config{Timeout: 30 * time.Millisecond}, f, nil)

	_, err := l.Load(context.Background(), "42")
	var reqErr *api.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, api.KindNetwork, reqErr.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoader_AgainstREST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/alertes/employe/42":
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": 1, "message": "old", "type": "info", "status": "NON_LU", "timestamp": "2025-03-01T08:00:00Z", "userId": 42},
				{"id": 2, "message": "new", "type": "urgent", "status": "LU", "timestamp": "2025-03-01T09:00:00Z"},
				{"message": "no id"},
			})
		case "/alertes/employe/401":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := api.NewClient(server.URL, "", api.WithRetries(0, time.Millisecond))
	l := NewLoader(DefaultConfig(), client, nil)

	snap, err := l.Load(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, snap.Alerts, 2)
	assert.Equal(t, 2, snap.Total)

	// Newest first.
	assert.Equal(t, "2", snap.Alerts[0].ID)
	assert.Equal(t, model.SeverityUrgent, snap.Alerts[0].Severity)
	assert.Equal(t, model.Read, snap.Alerts[0].ReadState)
	assert.Equal(t, model.ScopeGlobal, snap.Alerts[0].Scope)
	assert.Equal(t, model.ScopeUser, snap.Alerts[1].Scope)

	_, err = l.Load(context.Background(), "401")
	assert.True(t, api.IsUnauthorized(err))

	_, err = l.Load(context.Background(), "nobody")
	assert.True(t, api.IsNotFound(err))
}
