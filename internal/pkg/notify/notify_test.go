package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFilter_Match(t *testing.T) {
	change := model.Change{
		ApplianceID: "A",
		Kind:        model.ChangeStatus,
		Keys:        []string{"BSH.Common.Status.DoorState", "Cooking.Oven.Status.CurrentCavityTemperature"},
	}
	tests := map[string]struct {
		filter   Filter
		wantOK   bool
		wantKeys []string
	}{
		"empty filter": {
			filter:   Filter{},
			wantOK:   true,
			wantKeys: change.Keys,
		},
		"other appliance": {
			filter: Filter{ApplianceID: "B"},
		},
		"kind mismatch": {
			filter: Filter{Kinds: []model.ChangeKind{model.ChangeSetting, model.ChangeProgram}},
		},
		"wildcard narrows keys": {
			filter:   Filter{ApplianceID: "A", Keys: []string{"BSH.Common.Status.*"}},
			wantOK:   true,
			wantKeys: []string{"BSH.Common.Status.DoorState"},
		},
		"no key matches": {
			filter: Filter{Keys: []string{"BSH.Common.Setting.*"}},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := tt.filter.Match(change)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantKeys, got.Keys)
			}
		})
	}
}

func TestFilter_KeylessChangesPassKeyFilter(t *testing.T) {
	_, ok := Filter{Keys: []string{"BSH.*"}}.Match(model.Change{ApplianceID: "A", Kind: model.ChangeConnection})
	assert.True(t, ok)
}

func collect[T any](n int) (func(T), func(t *testing.T) []T) {
	ch := make(chan T, n)
	return func(v T) { ch <- v }, func(t *testing.T) []T {
		t.Helper()
		out := make([]T, 0, n)
		for len(out) < n {
			select {
			case v := <-ch:
				out = append(out, v)
			case <-time.After(2 * time.Second):
				t.Fatalf("received %d of %d notifications", len(out), n)
			}
		}
		return out
	}
}

func TestHub_PublishRoutesByAppliance(t *testing.T) {
	h := New(WithLogger(zaptest.NewLogger(t)))
	defer h.Close()

	globalCB, global := collect[model.Change](2)
	perACB, perA := collect[model.Change](1)
	h.Subscribe(Filter{}, globalCB)
	h.Subscribe(Filter{ApplianceID: "A"}, perACB)

	h.Publish(model.Change{ApplianceID: "A", Kind: model.ChangeStatus})
	h.Publish(model.Change{ApplianceID: "B", Kind: model.ChangeRemoved})

	assert.Len(t, global(t), 2)
	got := perA(t)
	assert.Equal(t, "A", got[0].ApplianceID)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := New(WithLogger(zaptest.NewLogger(t)), WithQueueSize(1))
	release := make(chan struct{})
	h.Subscribe(Filter{}, func(model.Change) { <-release })

	done := make(chan struct{})
	go func() {
		for range 10 {
			h.Publish(model.Change{ApplianceID: "A", Kind: model.ChangeStatus})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.NotZero(t, h.Dropped())
	close(release)
	h.Close()
}

func TestHub_PanickingSubscriberKeepsReceiving(t *testing.T) {
	h := New(WithLogger(zaptest.NewLogger(t)))
	defer h.Close()

	var mu sync.Mutex
	calls := 0
	got := make(chan model.Change, 1)
	h.Subscribe(Filter{}, func(c model.Change) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			panic("boom")
		}
		got <- c
	})

	h.Publish(model.Change{ApplianceID: "A", Kind: model.ChangeStatus})
	h.Publish(model.Change{ApplianceID: "B", Kind: model.ChangeStatus})

	select {
	case c := <-got:
		assert.Equal(t, "B", c.ApplianceID)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber stopped after panic")
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := New(WithLogger(zaptest.NewLogger(t)))
	defer h.Close()

	received := make(chan model.Change, 4)
	handle := h.Subscribe(Filter{}, func(c model.Change) { received <- c })
	require.NotEmpty(t, handle)

	assert.True(t, h.Unsubscribe(handle))
	assert.False(t, h.Unsubscribe(handle))
	h.Publish(model.Change{ApplianceID: "A", Kind: model.ChangeStatus})

	select {
	case <-received:
		t.Fatal("unsubscribed callback was invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_DiagnosticsAreSeparate(t *testing.T) {
	h := New(WithLogger(zaptest.NewLogger(t)))
	defer h.Close()

	changes := make(chan model.Change, 1)
	h.Subscribe(Filter{}, func(c model.Change) { changes <- c })
	diagCB, diags := collect[model.Diagnostic](1)
	h.SubscribeDiagnostics(diagCB)

	h.Report(model.Diagnostic{Kind: model.DiagnosticDecode, ApplianceID: "A"})

	assert.Equal(t, model.DiagnosticDecode, diags(t)[0].Kind)
	select {
	case <-changes:
		t.Fatal("diagnostic delivered as a change")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_Close(t *testing.T) {
	h := New(WithLogger(zaptest.NewLogger(t)))
	h.Subscribe(Filter{}, func(model.Change) {})
	h.Close()
	h.Close()

	assert.Empty(t, h.Subscribe(Filter{}, func(model.Change) {}))
	h.Publish(model.Change{ApplianceID: "A"})
}
