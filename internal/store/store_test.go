package store

import (
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/alert-feed/internal/model"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func alert(id string, state model.ReadState, offset time.Duration) model.Alert {
	return model.Alert{
		ID:        id,
		Message:   "alert " + id,
		Severity:  model.SeverityInfo,
		ReadState: state,
		CreatedAt: base.Add(offset),
		Scope:     model.ScopeUser,
		UserID:    "42",
	}
}

func ids(alerts []model.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.ID
	}
	return out
}

func TestStore_SeedStatsAndStatusChange(t *testing.T) {
	s := New(nil)
	require.True(t, s.Seed([]model.Alert{
		alert("1", model.Unread, 0),
		alert("2", model.Read, time.Minute),
		alert("3", model.Unread, 2*time.Minute),
	}, false))

	st := s.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Unread)
	assert.Equal(t, 1, st.Read)

	out := s.ApplyDelta(model.StatusChanged{ID: "1", State: model.Read})
	assert.True(t, out.Changed)

	st = s.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Unread)
	assert.Equal(t, 2, st.Read)
}

func TestStore_SeedOnlyOnceUnlessRefresh(t *testing.T) {
	s := New(nil)
	require.True(t, s.Seed([]model.Alert{alert("1", model.Unread, 0)}, false))

	assert.False(t, s.Seed([]model.Alert{alert("9", model.Unread, 0)}, false))
	assert.Equal(t, []string{"1"}, ids(s.List()))

	assert.True(t, s.Seed([]model.Alert{alert("9", model.Unread, 0)}, true))
	assert.Equal(t, []string{"9"}, ids(s.List()))
}

func TestStore_FirstSeedKeepsStreamedAlerts(t *testing.T) {
	s := New(nil)
	s.ApplyDelta(model.NewAlert{Alert: alert("5", model.Read, 5*time.Minute)})

	require.True(t, s.Seed([]model.Alert{
		alert("4", model.Unread, 4*time.Minute),
		alert("5", model.Unread, 5*time.Minute),
		{ID: "", Message: "malformed"},
	}, false))

	assert.Equal(t, []string{"5", "4"}, ids(s.List()))
	a, ok := s.Get("5")
	require.True(t, ok)
	assert.Equal(t, model.Read, a.ReadState)
}

func TestStore_NewAlertIsIdempotent(t *testing.T) {
	s := New(nil)
	d := model.NewAlert{Alert: alert("7", model.Unread, 0)}

	assert.True(t, s.ApplyDelta(d).Inserted)
	out := s.ApplyDelta(d)
	assert.True(t, out.Ignored)
	assert.False(t, out.Inserted)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.Stats().Total)
}

func TestStore_ReconnectSeedDoesNotDuplicate(t *testing.T) {
	s := New(nil)
	s.Seed([]model.Alert{alert("1", model.Unread, 0)}, false)

	// NewAlert(4) is lost while offline; the post-reconnect refresh carries it.
	s.Seed([]model.Alert{
		alert("1", model.Unread, 0),
		alert("4", model.Unread, 4*time.Minute),
	}, true)
	// A late duplicate delivery of the same alert.
	s.ApplyDelta(model.NewAlert{Alert: alert("4", model.Unread, 4*time.Minute)})

	assert.Equal(t, []string{"4", "1"}, ids(s.List()))
	assert.Equal(t, 2, s.Stats().Total)
}

func TestStore_RefreshKeepsDeltasAppliedDuringFetch(t *testing.T) {
	s := New(nil)
	s.Seed([]model.Alert{
		alert("1", model.Unread, 0),
		alert("2", model.Unread, time.Minute),
		alert("3", model.Unread, 2*time.Minute),
	}, false)

	s.BeginSnapshot()
	s.ApplyDelta(model.NewAlert{Alert: alert("5", model.Unread, 5*time.Minute)})
	s.ApplyDelta(model.StatusChanged{ID: "1", State: model.Read})
	s.ApplyDelta(model.Deleted{ID: "3"})

	// The snapshot was read before any of those deltas.
	require.True(t, s.Seed([]model.Alert{
		alert("1", model.Unread, 0),
		alert("2", model.Unread, time.Minute),
		alert("3", model.Unread, 2*time.Minute),
	}, true))

	assert.Equal(t, []string{"5", "2", "1"}, ids(s.List()))
	a, _ := s.Get("1")
	assert.Equal(t, model.Read, a.ReadState)

	st := s.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Read)

	// The next refresh is authoritative again.
	s.BeginSnapshot()
	require.True(t, s.Seed([]model.Alert{alert("2", model.Unread, time.Minute)}, true))
	assert.Equal(t, []string{"2"}, ids(s.List()))
}

func TestStore_RefreshNeverUnreads(t *testing.T) {
	s := New(nil)
	s.Seed([]model.Alert{alert("1", model.Unread, 0)}, false)

	token, err := s.MarkRead("1")
	require.NoError(t, err)
	require.True(t, s.Commit(token))

	s.BeginSnapshot()
	s.Seed([]model.Alert{alert("1", model.Unread, 0)}, true)

	a, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, model.Read, a.ReadState)
}

func TestStore_Ordering(t *testing.T) {
	var alerts []model.Alert
	for i := 1; i <= 20; i++ {
		alerts = append(alerts, alert(strconv.Itoa(i), model.Unread, time.Duration(i%7)*time.Minute))
	}
	rng := rand.New(rand.NewSource(1))
	rng.Shuffle(len(alerts), func(i, j int) { alerts[i], alerts[j] = alerts[j], alerts[i] })

	s := New(nil)
	for _, a := range alerts {
		s.ApplyDelta(model.NewAlert{Alert: a})
	}

	list := s.List()
	require.Len(t, list, 20)
	for i := 1; i < len(list); i++ {
		assert.True(t, model.Before(list[i-1], list[i]), "%s before %s", list[i-1].ID, list[i].ID)
	}
	// 6, 13 and 20 share the latest CreatedAt; higher ID first.
	assert.Equal(t, []string{"20", "13", "6"}, ids(list[:3]))
}

func TestStore_ReadIsMonotonic(t *testing.T) {
	s := New(nil)
	s.Seed([]model.Alert{alert("1", model.Read, 0)}, false)

	assert.True(t, s.ApplyDelta(model.StatusChanged{ID: "1", State: model.Unread}).Ignored)
	assert.True(t, s.ApplyDelta(model.NewAlert{Alert: alert("1", model.Unread, 0)}).Ignored)

	a, _ := s.Get("1")
	assert.Equal(t, model.Read, a.ReadState)

	// Duplicate NewAlert carrying Read moves an unread entry forward.
	s.ApplyDelta(model.NewAlert{Alert: alert("2", model.Unread, 0)})
	assert.True(t, s.ApplyDelta(model.NewAlert{Alert: alert("2", model.Read, 0)}).Changed)
	a, _ = s.Get("2")
	assert.Equal(t, model.Read, a.ReadState)
}

func TestStore_DeleteLeavesTombstone(t *testing.T) {
	s := New(nil)
	s.ApplyDelta(model.NewAlert{Alert: alert("1", model.Unread, 0)})

	assert.True(t, s.ApplyDelta(model.Deleted{ID: "1"}).Changed)
	assert.True(t, s.ApplyDelta(model.Deleted{ID: "1"}).Ignored)
	assert.True(t, s.ApplyDelta(model.NewAlert{Alert: alert("1", model.Unread, 0)}).Ignored)
	assert.Equal(t, 0, s.Len())

	// Deleted before it ever arrived.
	s.ApplyDelta(model.Deleted{ID: "2"})
	assert.True(t, s.ApplyDelta(model.NewAlert{Alert: alert("2", model.Unread, 0)}).Ignored)
}

func TestStore_StatusChangedUnknownID(t *testing.T) {
	s := New(nil)
	assert.True(t, s.ApplyDelta(model.StatusChanged{ID: "nope", State: model.Read}).Ignored)
	assert.True(t, s.ApplyDelta(model.StatsHint{UserID: "42"}).Ignored)
}

func TestStore_MarkReadRevert(t *testing.T) {
	s := New(nil)
	s.Seed([]model.Alert{alert("1", model.Unread, 0), alert("2", model.Unread, time.Minute)}, false)

	token, err := s.MarkRead("1")
	require.NoError(t, err)
	a, _ := s.Get("1")
	assert.Equal(t, model.Read, a.ReadState)
	assert.Equal(t, 1, s.Stats().Unread)

	assert.True(t, s.Revert(token))
	a, _ = s.Get("1")
	assert.Equal(t, model.Unread, a.ReadState)
	assert.Equal(t, 2, s.Stats().Unread)
	assert.Equal(t, []string{"2", "1"}, ids(s.List()))

	assert.False(t, s.Revert(token))
	assert.Equal(t, 0, s.Pending())
}

func TestStore_RevertAfterServerConfirmation(t *testing.T) {
	s := New(nil)
	s.Seed([]model.Alert{alert("1", model.Unread, 0)}, false)

	token, err := s.MarkRead("1")
	require.NoError(t, err)
	s.ApplyDelta(model.StatusChanged{ID: "1", State: model.Read})

	assert.False(t, s.Revert(token))
	a, _ := s.Get("1")
	assert.Equal(t, model.Read, a.ReadState)
}

func TestStore_DeleteRevertAndCommit(t *testing.T) {
	s := New(nil)
	s.Seed([]model.Alert{alert("1", model.Unread, 0), alert("2", model.Read, time.Minute)}, false)

	token, err := s.Delete("1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(s.List()))

	// A late NewAlert does not resurrect a pending delete.
	assert.True(t, s.ApplyDelta(model.NewAlert{Alert: alert("1", model.Unread, 0)}).Ignored)

	assert.True(t, s.Revert(token))
	assert.Equal(t, []string{"2", "1"}, ids(s.List()))

	token, err = s.Delete("2")
	require.NoError(t, err)
	assert.True(t, s.Commit(token))
	assert.False(t, s.Commit(token))
	assert.True(t, s.ApplyDelta(model.NewAlert{Alert: alert("2", model.Read, time.Minute)}).Ignored)
}

func TestStore_MutateUnknown(t *testing.T) {
	s := New(nil)
	_, err := s.MarkRead("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Delete("")
	assert.ErrorIs(t, err, ErrEmptyID)
	assert.False(t, s.Revert("no-such-token"))
}

func TestStore_RefreshKeepsPendingEdits(t *testing.T) {
	s := New(nil)
	s.Seed([]model.Alert{
		alert("1", model.Unread, 0),
		alert("2", model.Unread, time.Minute),
		alert("3", model.Unread, 2*time.Minute),
	}, false)

	readToken, err := s.MarkRead("1")
	require.NoError(t, err)
	_, err = s.Delete("2")
	require.NoError(t, err)

	// The server has not processed either request yet.
	s.Seed([]model.Alert{
		alert("1", model.Unread, 0),
		alert("2", model.Unread, time.Minute),
		alert("3", model.Read, 2*time.Minute),
	}, true)

	assert.Equal(t, []string{"3", "1"}, ids(s.List()))
	a, _ := s.Get("1")
	assert.Equal(t, model.Read, a.ReadState)
	a, _ = s.Get("3")
	assert.Equal(t, model.Read, a.ReadState)

	assert.True(t, s.Revert(readToken))
	a, _ = s.Get("1")
	assert.Equal(t, model.Unread, a.ReadState)
}

func TestStore_ListenerAndConcurrency(t *testing.T) {
	s := New(nil)

	var mu sync.Mutex
	changes := 0
	remove := s.Listen(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every alert is delivered twice, as on the global and personal topics.
			a := alert(strconv.Itoa(i), model.Unread, time.Duration(i)*time.Second)
			s.ApplyDelta(model.NewAlert{Alert: a})
			s.ApplyDelta(model.NewAlert{Alert: a})
			_ = s.List()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	mu.Lock()
	assert.Equal(t, 50, changes)
	mu.Unlock()

	remove()
	s.ApplyDelta(model.NewAlert{Alert: alert("x", model.Unread, 0)})
	mu.Lock()
	assert.Equal(t, 50, changes)
	mu.Unlock()
}
