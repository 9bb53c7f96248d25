package model

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"info", SeverityInfo},
		{"SUCCESS", SeveritySuccess},
		{"warning", SeverityWarning},
		{"error", SeverityUrgent},
		{"urgent", SeverityUrgent},
		{" Critical ", SeverityUrgent},
		{"", SeverityInfo},
		{"something-else", SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSeverity(tt.in))
		})
	}
}

func TestParseReadState(t *testing.T) {
	assert.Equal(t, Read, ParseReadState("READ"))
	assert.Equal(t, Read, ParseReadState("lu"))
	assert.Equal(t, Unread, ParseReadState("NON_LU"))
	assert.Equal(t, Unread, ParseReadState("UNREAD"))
	assert.Equal(t, Unread, ParseReadState(""))
}

func TestComputeStats(t *testing.T) {
	alerts := []Alert{
		{ID: "1", Severity: SeverityInfo, ReadState: Unread},
		{ID: "2", Severity: SeverityWarning, ReadState: Read},
		{ID: "3", Severity: SeverityUrgent, ReadState: Unread},
	}

	st := ComputeStats(alerts)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Unread)
	assert.Equal(t, 1, st.Read)
	assert.Equal(t, 1, st.BySeverity[SeverityInfo])
	assert.Equal(t, 1, st.BySeverity[SeverityWarning])
	assert.Equal(t, 1, st.BySeverity[SeverityUrgent])
	assert.Equal(t, 0, st.BySeverity[SeveritySuccess])

	empty := ComputeStats(nil)
	assert.Zero(t, empty.Total)
	assert.Len(t, empty.BySeverity, len(Severities))
}

func TestSortAlerts_IndependentOfDeliveryOrder(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	want := []string{"5", "10", "9", "2", "1"}
	alerts := []Alert{
		{ID: "1", CreatedAt: base},
		{ID: "2", CreatedAt: base.Add(time.Minute)},
		{ID: "9", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "10", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "5", CreatedAt: base.Add(3 * time.Minute)},
	}

	for i := 0; i < 20; i++ {
		shuffled := append([]Alert(nil), alerts...)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		SortAlerts(shuffled)

		got := make([]string, len(shuffled))
		for j, a := range shuffled {
			got[j] = a.ID
		}
		require.Equal(t, want, got)
	}
}

func TestSortAlerts_MixedIDsAreTotallyOrdered(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"10", "9", "1a"}
	want := []string{"1a", "10", "9"}

	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		alerts := make([]Alert, 0, len(p))
		for _, i := range p {
			alerts = append(alerts, Alert{ID: ids[i], CreatedAt: at})
		}
		SortAlerts(alerts)

		got := make([]string, len(alerts))
		for j, a := range alerts {
			got[j] = a.ID
		}
		require.Equal(t, want, got, "input order %v", p)
	}

	assert.Negative(t, compareIDs("10", "1a"))
	assert.Negative(t, compareIDs("9", "1a"))
	assert.Positive(t, compareIDs("10", "9"))
	assert.Positive(t, compareIDs("1a", "10"))
}

func TestBefore_NonNumericIDs(t *testing.T) {
	at := time.Now()
	assert.True(t, Before(Alert{ID: "b", CreatedAt: at}, Alert{ID: "a", CreatedAt: at}))
	assert.False(t, Before(Alert{ID: "a", CreatedAt: at}, Alert{ID: "b", CreatedAt: at}))
}

func TestConnectionState_CanTransition(t *testing.T) {
	legal := map[ConnectionState][]ConnectionState{
		Connecting:   {Connected, Error},
		Connected:    {Disconnected},
		Disconnected: {Connecting},
		Error:        {Connecting},
	}
	all := []ConnectionState{Disconnected, Connecting, Connected, Error}

	for from, tos := range legal {
		for _, to := range all {
			want := false
			for _, ok := range tos {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestDeltaKinds(t *testing.T) {
	var deltas = []Delta{
		NewAlert{Alert: Alert{ID: "1"}},
		StatusChanged{ID: "2", State: Read},
		Deleted{ID: "3"},
		StatsHint{UserID: "7"},
	}
	kinds := []DeltaKind{DeltaNewAlert, DeltaStatusChanged, DeltaDeleted, DeltaStatsHint}
	ids := []string{"1", "2", "3", ""}

	for i, d := range deltas {
		assert.Equal(t, kinds[i], d.Kind())
		assert.Equal(t, ids[i], d.AlertID())
	}
}
