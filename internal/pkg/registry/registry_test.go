package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, ids ...string) (*Registry, *Writer) {
	t.Helper()
	r, w := New(WithClock(func() time.Time { return testNow }))
	for _, id := range ids {
		w.UpsertAppliance(model.Appliance{ID: id, Connection: model.ConnectionConnected})
	}
	return r, w
}

func status(key, value string) model.StatusEntry {
	return model.StatusEntry{Key: key, Value: model.StringValue(value)}
}

func statusOf(t *testing.T, r *Registry, id, key string) string {
	t.Helper()
	a, ok := r.Get(id)
	require.True(t, ok)
	return a.Status[key].Value.String()
}

func TestWriter_ApplyStatus_HighestSequenceWins(t *testing.T) {
	type update struct {
		seq   uint64
		value string
	}
	tests := map[string]struct {
		updates []update
		want    string
	}{
		"in order": {
			updates: []update{{1, "a"}, {2, "b"}, {3, "c"}},
			want:    "c",
		},
		"out of order": {
			updates: []update{{3, "c"}, {1, "a"}, {2, "b"}},
			want:    "c",
		},
		"stale after newer": {
			updates: []update{{5, "on"}, {3, "off"}},
			want:    "on",
		},
		"equal marker is dropped": {
			updates: []update{{4, "first"}, {4, "second"}},
			want:    "first",
		},
		"no markers last write wins": {
			updates: []update{{0, "x"}, {0, "y"}},
			want:    "y",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r, w := newTestRegistry(t, "A")
			for _, u := range tt.updates {
				_, err := w.ApplyStatus("A", u.seq, []model.StatusEntry{status("power", u.value)})
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, statusOf(t, r, "A", "power"))
		})
	}
}

func TestWriter_ApplyStatus_Idempotent(t *testing.T) {
	tests := map[string]uint64{
		"with marker":    7,
		"without marker": 0,
	}
	for name, seq := range tests {
		t.Run(name, func(t *testing.T) {
			r, w := newTestRegistry(t, "A")
			entries := []model.StatusEntry{status("door", "open")}

			changed, err := w.ApplyStatus("A", seq, entries)
			require.NoError(t, err)
			assert.Equal(t, []string{"door"}, changed)
			before, _ := r.Get("A")

			changed, err = w.ApplyStatus("A", seq, entries)
			require.NoError(t, err)
			assert.Empty(t, changed)
			after, _ := r.Get("A")
			assert.Equal(t, before, after)
		})
	}
}

func TestWriter_SequencesArePerField(t *testing.T) {
	r, w := newTestRegistry(t, "A")
	_, err := w.ApplyStatus("A", 5, []model.StatusEntry{status("door", "open")})
	require.NoError(t, err)
	changed, err := w.ApplyStatus("A", 2, []model.StatusEntry{status("power", "on")})
	require.NoError(t, err)
	assert.Equal(t, []string{"power"}, changed)
	assert.Equal(t, "on", statusOf(t, r, "A", "power"))
}

func TestWriter_InclusiveSequences(t *testing.T) {
	r, w := New(WithClock(func() time.Time { return testNow }), WithInclusiveSequences())
	w.UpsertAppliance(model.Appliance{ID: "A", Connection: model.ConnectionConnected})

	_, err := w.ApplyStatus("A", 1700000000, []model.StatusEntry{status("power", "on")})
	require.NoError(t, err)
	changed, err := w.ApplyStatus("A", 1700000000, []model.StatusEntry{status("power", "off")})
	require.NoError(t, err)
	assert.Equal(t, []string{"power"}, changed)
	assert.Equal(t, "off", statusOf(t, r, "A", "power"))

	changed, err = w.ApplyStatus("A", 1699999999, []model.StatusEntry{status("power", "on")})
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Equal(t, "off", statusOf(t, r, "A", "power"))
}

func TestWriter_EntrySequenceOverridesEventMarker(t *testing.T) {
	r, w := newTestRegistry(t, "A")
	_, err := w.ApplyStatus("A", 0, []model.StatusEntry{
		{Key: "door", Value: model.StringValue("open"), Sequence: 200},
		{Key: "power", Value: model.StringValue("on"), Sequence: 100},
	})
	require.NoError(t, err)

	// the event marker is newer than the power entry but older than the door entry
	changed, err := w.ApplyStatus("A", 150, []model.StatusEntry{
		{Key: "door", Value: model.StringValue("closed"), Sequence: 120},
		status("power", "off"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"power"}, changed)
	assert.Equal(t, "open", statusOf(t, r, "A", "door"))
	assert.Equal(t, "off", statusOf(t, r, "A", "power"))

	a, _ := r.Get("A")
	assert.Zero(t, a.Status["door"].Sequence)
}

func TestWriter_UnknownAppliance(t *testing.T) {
	r, w := newTestRegistry(t)

	_, err := w.ApplyStatus("ghost", 1, []model.StatusEntry{status("k", "v")})
	assert.ErrorIs(t, err, ErrUnknownAppliance)
	_, err = w.ApplySetting("ghost", 1, nil)
	assert.ErrorIs(t, err, ErrUnknownAppliance)
	_, err = w.ReplaceProgramState("ghost", 1, model.ProgramState{})
	assert.ErrorIs(t, err, ErrUnknownAppliance)
	_, err = w.SetConnection("ghost", 1, model.ConnectionConnected)
	assert.ErrorIs(t, err, ErrUnknownAppliance)
	assert.False(t, w.RemoveAppliance("ghost"))
	assert.Equal(t, 0, r.Len())
}

func TestWriter_ApplySetting_KeepsConstraints(t *testing.T) {
	r, w := New()
	limit := 10.0
	w.UpsertAppliance(model.Appliance{
		ID: "A",
		Settings: map[string]model.SettingEntry{
			"temp": {Key: "temp", Value: model.NumberValue(4), Unit: "°C", Constraints: &model.Constraints{Max: &limit}},
		},
	})

	changed, err := w.ApplySetting("A", 0, []model.SettingEntry{{Key: "temp", Value: model.NumberValue(6)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"temp"}, changed)

	a, _ := r.Get("A")
	got := a.Settings["temp"]
	assert.Equal(t, model.NumberValue(6), got.Value)
	assert.Equal(t, "°C", got.Unit)
	require.NotNil(t, got.Constraints)
	assert.Equal(t, 10.0, *got.Constraints.Max)
}

func TestWriter_ReplaceProgramState(t *testing.T) {
	r, w := newTestRegistry(t, "A")
	progress := 10
	ps := model.ProgramState{Active: "Eco50", Progress: &progress, Options: []model.Option{{Key: "ExtraDry", Value: model.BoolValue(true)}}}

	changed, err := w.ReplaceProgramState("A", 1, ps)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = w.ReplaceProgramState("A", 2, model.ProgramState{Selected: "Quick45"})
	require.NoError(t, err)
	assert.True(t, changed)

	a, _ := r.Get("A")
	assert.Equal(t, model.ProgramState{Selected: "Quick45"}, a.Program, "program state is replaced, not merged")

	changed, err = w.ReplaceProgramState("A", 1, ps)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestWriter_SetConnection(t *testing.T) {
	r, w := newTestRegistry(t, "A")
	changed, err := w.SetConnection("A", 0, model.ConnectionDisconnected)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = w.SetConnection("A", 0, model.ConnectionDisconnected)
	require.NoError(t, err)
	assert.False(t, changed)

	a, _ := r.Get("A")
	assert.Equal(t, model.ConnectionDisconnected, a.Connection)
}

func TestWriter_Replace(t *testing.T) {
	r, w := newTestRegistry(t, "A", "B", "C")
	_, err := w.ApplyStatus("A", 9, []model.StatusEntry{status("power", "on")})
	require.NoError(t, err)

	res := w.Replace([]model.Appliance{{ID: "A"}, {ID: "D"}}, false)
	assert.Equal(t, SyncResult{Added: []string{"D"}, Removed: []string{"B", "C"}, Refreshed: []string{"A"}}, res)

	ids := []string{}
	for _, a := range r.List() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"A", "D"}, ids)

	// markers survive a replace without reset
	changed, err := w.ApplyStatus("A", 9, []model.StatusEntry{status("power", "off")})
	require.NoError(t, err)
	assert.Empty(t, changed)

	w.Replace([]model.Appliance{{ID: "A"}}, true)
	changed, err = w.ApplyStatus("A", 1, []model.StatusEntry{status("power", "off")})
	require.NoError(t, err)
	assert.Equal(t, []string{"power"}, changed)
}

func TestRegistry_ReadsAreCopies(t *testing.T) {
	r, w := newTestRegistry(t, "A")
	_, err := w.ApplyStatus("A", 0, []model.StatusEntry{status("door", "open")})
	require.NoError(t, err)

	a, ok := r.Get("A")
	require.True(t, ok)
	a.Status["door"] = status("door", "closed")
	a.Capabilities[0] = "mutated"

	b, _ := r.Get("A")
	assert.Equal(t, "open", b.Status["door"].Value.String())
	assert.Equal(t, []string{"door"}, b.Capabilities)
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r, w := newTestRegistry(t, "A", "B")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 200 {
			_, _ = w.ApplyStatus("A", uint64(i+1), []model.StatusEntry{status("counter", string(rune('a'+i%26)))})
		}
	}()
	for range 200 {
		for _, a := range r.List() {
			_ = len(a.Status)
		}
	}
	wg.Wait()
	assert.Equal(t, 2, r.Len())
}
