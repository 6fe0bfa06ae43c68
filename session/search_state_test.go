package session

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strdash/core"
)

func sampleAlert() *core.Table {
	return &core.Table{
		Columns: []string{core.ColAlertID, core.ColRuleID},
		Rows:    [][]any{{"A1", "R1"}},
	}
}

func TestSearchState_BeginIsExclusive(t *testing.T) {
	s := NewSearchState()

	require.True(t, s.Begin())
	assert.True(t, s.IsSearching())
	assert.False(t, s.Begin(), "second Begin is refused while searching")

	s.End()
	assert.False(t, s.IsSearching())
	assert.True(t, s.Begin())
}

func TestSearchState_ConcurrentBegin(t *testing.T) {
	s := NewSearchState()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Begin() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestSearchState_LoadAndReset(t *testing.T) {
	s := NewSearchState()
	assert.False(t, s.HasData())

	s.Load("A1", sampleAlert(), core.DerivedAlertContext{RepRuleID: "R1", CanonicalIDs: []string{"R1"}})
	s.SetPeriod(core.TransactionPeriod{Start: "2024-01-01 00:00:00.000000000", End: "2024-02-01 23:59:59.999999999", MonthsBack: 3})
	s.SetCustomer(&core.Table{Columns: []string{core.ColCustID}, Rows: [][]any{{"C1"}}})

	assert.True(t, s.HasData())
	assert.True(t, s.IsLoaded("A1"))
	assert.False(t, s.IsLoaded("A2"))
	assert.Equal(t, "A1", s.AlertID())

	require.True(t, s.Begin())
	s.Reset()
	assert.False(t, s.HasData())
	assert.False(t, s.IsLoaded("A1"))
	assert.True(t, s.IsSearching(), "Reset leaves the in-flight flag alone")

	snap := s.Snapshot()
	assert.Empty(t, snap.AlertID)
	assert.Nil(t, snap.Customer)
	assert.NotNil(t, snap.Derived.CanonicalIDs)
	assert.False(t, snap.Period.Valid())
}

func TestSearchState_SnapshotIsIsolated(t *testing.T) {
	s := NewSearchState()
	s.Load("A1", sampleAlert(), core.DerivedAlertContext{CanonicalIDs: []string{"R1"}})

	snap := s.Snapshot()
	snap.Alert.Rows[0][0] = "mutated"
	snap.Derived.CanonicalIDs[0] = "mutated"

	again := s.Snapshot()
	assert.Equal(t, "A1", again.Alert.Rows[0][0])
	assert.Equal(t, "R1", again.Derived.CanonicalIDs[0])
}

func TestConnectionState(t *testing.T) {
	c := NewConnectionState(ConnectionStatus{Primary: true})
	assert.True(t, c.IsConnected(SourcePrimary))
	assert.False(t, c.IsConnected(SourceAnalytics))
	assert.False(t, c.IsConnected(Source("other")))

	var changes []string
	c.OnChange(func(s Source, connected bool) {
		if connected {
			changes = append(changes, string(s)+":up")
		} else {
			changes = append(changes, string(s)+":down")
		}
	})

	c.Set(SourceAnalytics, true)
	c.Set(SourceAnalytics, true)
	c.Set(SourcePrimary, false)

	assert.Equal(t, ConnectionStatus{Primary: false, Analytics: true}, c.Snapshot())
	assert.Equal(t, []string{"analytics:up", "primary:down"}, changes, "unchanged flags do not notify")
}

func TestParseSource(t *testing.T) {
	for in, want := range map[string]Source{
		"primary": SourcePrimary, "Oracle": SourcePrimary,
		"analytics": SourceAnalytics, " redshift ": SourceAnalytics,
	} {
		got, err := ParseSource(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseSource("mysql")
	assert.Error(t, err)
	assert.Equal(t, "Oracle", SourcePrimary.Label())
	assert.Equal(t, "Redshift", SourceAnalytics.Label())
}
