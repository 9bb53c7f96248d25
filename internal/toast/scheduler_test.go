package toast

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/alert-feed/internal/model"
)

// fakeNotifier records permission requests and shown alerts.
type fakeNotifier struct {
	perm Permission

	mu       sync.Mutex
	requests int
	shown    []string
}

func (f *fakeNotifier) RequestPermission(context.Context) Permission {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
	return f.perm
}

func (f *fakeNotifier) Show(a model.Alert) {
	f.mu.Lock()
	f.shown = append(f.shown, a.ID)
	f.mu.Unlock()
}

func (f *fakeNotifier) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests, append([]string(nil), f.shown...)
}

func newAlert(id string, sev model.Severity) model.Alert {
	return model.Alert{
		ID:        id,
		Message:   "alert " + id,
		Severity:  sev,
		ReadState: model.Unread,
		CreatedAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func visibleIDs(s *Scheduler) []string {
	var out []string
	for _, t := range s.Visible() {
		out = append(out, t.Alert.ID)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TTL = time.Hour
	return cfg
}

func TestScheduler_QuotaEvictsOldest(t *testing.T) {
	s := NewScheduler(testConfig(), nil, nil)
	defer s.Close()

	var mu sync.Mutex
	var evicted []string
	s.Listen(func(ev Event) {
		if ev.Kind == EventEvicted {
			mu.Lock()
			evicted = append(evicted, ev.Toast.Alert.ID)
			mu.Unlock()
		}
	})

	for i := 1; i <= 5; i++ {
		require.True(t, s.OnNewAlert(newAlert(strconv.Itoa(i), model.SeverityInfo)))
		assert.LessOrEqual(t, len(s.Visible()), 3)
	}

	assert.Equal(t, []string{"3", "4", "5"}, visibleIDs(s))
	mu.Lock()
	assert.Equal(t, []string{"1", "2"}, evicted)
	mu.Unlock()
}

func TestScheduler_Suppression(t *testing.T) {
	s := NewScheduler(testConfig(), nil, nil)
	defer s.Close()

	s.MarkSeen("1", "2")
	assert.False(t, s.OnNewAlert(newAlert("1", model.SeverityInfo)))

	read := newAlert("3", model.SeverityInfo)
	read.ReadState = model.Read
	assert.False(t, s.OnNewAlert(read))

	assert.True(t, s.OnNewAlert(newAlert("4", model.SeverityInfo)))
	assert.False(t, s.OnNewAlert(newAlert("4", model.SeverityInfo)))

	// Once toasted, an id stays suppressed after its toast is gone.
	require.True(t, s.Dismiss("4"))
	assert.False(t, s.OnNewAlert(newAlert("4", model.SeverityInfo)))
	assert.Empty(t, s.Visible())
}

func TestScheduler_ExpiresAfterTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 30 * time.Millisecond
	s := NewScheduler(cfg, nil, nil)
	defer s.Close()

	expired := make(chan string, 1)
	s.Listen(func(ev Event) {
		if ev.Kind == EventExpired {
			expired <- ev.Toast.Alert.ID
		}
	})

	require.True(t, s.OnNewAlert(newAlert("1", model.SeverityWarning)))
	toast := s.Visible()[0]
	assert.False(t, toast.Sticky())
	assert.Equal(t, toast.ShownAt.Add(cfg.TTL), toast.ExpiresAt)

	select {
	case id := <-expired:
		assert.Equal(t, "1", id)
	case <-time.After(time.Second):
		t.Fatal("toast did not expire")
	}
	assert.Empty(t, s.Visible())

	// Dismiss after expiry is a no-op.
	assert.False(t, s.Dismiss("1"))
}

func TestScheduler_UrgentIsSticky(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 20 * time.Millisecond
	s := NewScheduler(cfg, nil, nil)
	defer s.Close()

	require.True(t, s.OnNewAlert(newAlert("u", model.SeverityUrgent)))
	require.True(t, s.OnNewAlert(newAlert("i", model.SeverityInfo)))

	assert.Eventually(t, func() bool {
		ids := visibleIDs(s)
		return len(ids) == 1 && ids[0] == "u"
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	require.Len(t, s.Visible(), 1)
	assert.True(t, s.Visible()[0].Sticky())

	assert.True(t, s.Dismiss("u"))
	assert.False(t, s.Dismiss("u"))
	assert.Empty(t, s.Visible())
}

func TestScheduler_DismissEvent(t *testing.T) {
	s := NewScheduler(testConfig(), nil, nil)
	defer s.Close()

	var got []Event
	s.Listen(func(ev Event) { got = append(got, ev) })

	s.OnNewAlert(newAlert("1", model.SeverityInfo))
	s.Dismiss("1")
	s.Dismiss("1")

	require.Len(t, got, 2)
	assert.Equal(t, EventShown, got[0].Kind)
	assert.Equal(t, EventDismissed, got[1].Kind)
	assert.True(t, got[1].Toast.Dismissed)
}

func TestScheduler_PermissionRequestedOnce(t *testing.T) {
	n := &fakeNotifier{perm: PermissionGranted}
	s := NewScheduler(testConfig(), n, nil)
	defer s.Close()

	requests, _ := n.snapshot()
	assert.Equal(t, 0, requests)

	s.OnNewAlert(newAlert("1", model.SeverityInfo))
	require.Eventually(t, func() bool {
		return s.Permission() == PermissionGranted
	}, time.Second, 5*time.Millisecond)

	s.OnNewAlert(newAlert("2", model.SeverityInfo))

	require.Eventually(t, func() bool {
		_, shown := n.snapshot()
		return len(shown) == 2
	}, time.Second, 5*time.Millisecond)

	requests, shown := n.snapshot()
	assert.Equal(t, 1, requests)
	assert.ElementsMatch(t, []string{"1", "2"}, shown)
}

func TestScheduler_PermissionDenied(t *testing.T) {
	n := &fakeNotifier{perm: PermissionDenied}
	s := NewScheduler(testConfig(), n, nil)

	s.OnNewAlert(newAlert("1", model.SeverityInfo))
	require.Eventually(t, func() bool {
		return s.Permission() == PermissionDenied
	}, time.Second, 5*time.Millisecond)
	s.OnNewAlert(newAlert("2", model.SeverityInfo))
	s.Close()

	requests, shown := n.snapshot()
	assert.Equal(t, 1, requests)
	assert.Empty(t, shown)
	assert.Len(t, s.Visible(), 0)
	assert.False(t, s.OnNewAlert(newAlert("3", model.SeverityInfo)))
}

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewConsoleNotifier(&buf)

	assert.Equal(t, PermissionGranted, n.RequestPermission(context.Background()))
	n.Show(newAlert("12", model.SeverityUrgent))

	assert.Equal(t, "[Urgent] 09:30:00 #12 alert 12\n", buf.String())
}
