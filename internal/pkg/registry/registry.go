// Package registry holds the in-memory appliance state.
//
// Reads go through Registry and always return deep copies taken under a read
// lock, so callers see one consistent snapshot per call. Writes go through
// Writer, which is handed to exactly one owner (the reconcile engine).
package registry

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/samber/lo"
)

var ErrUnknownAppliance = errors.New("unknown appliance")

// field keys used for sequence tracking
const (
	programField    = "program"
	connectionField = "connection"
	statusPrefix    = "status/"
	settingPrefix   = "setting/"
)

type store struct {
	mu         sync.RWMutex
	appliances map[string]*model.Appliance
	sequences  map[string]map[string]uint64
	now        func() time.Time
	inclusive  bool
}

type Registry struct {
	s *store
}

type Writer struct {
	s *store
}

// Option configures a registry created by New.
type Option func(*store)

func WithClock(now func() time.Time) Option {
	return func(s *store) {
		s.now = now
	}
}

// WithInclusiveSequences makes a marker equal to the last accepted one apply
// instead of being dropped. Use it when markers are coarse, e.g. timestamps in
// seconds.
func WithInclusiveSequences() Option {
	return func(s *store) {
		s.inclusive = true
	}
}

// New returns the read side and the single write side of an empty registry.
func New(opts ...Option) (*Registry, *Writer) {
	s := &store{
		appliances: make(map[string]*model.Appliance),
		sequences:  make(map[string]map[string]uint64),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return &Registry{s: s}, &Writer{s: s}
}

func (r *Registry) Get(id string) (model.Appliance, bool) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.appliances[id]
	if !ok {
		return model.Appliance{}, false
	}
	return *a.DeepCopy(), true
}

// List returns every appliance ordered by ID.
func (r *Registry) List() []model.Appliance {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]model.Appliance, 0, len(r.s.appliances))
	for _, a := range r.s.appliances {
		out = append(out, *a.DeepCopy())
	}
	slices.SortFunc(out, func(a, b model.Appliance) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Registry) Len() int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.appliances)
}

func (r *Registry) Has(id string) bool {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.appliances[id]
	return ok
}

// accept applies the sequence rule for one field. A zero marker always wins.
// An equal marker is stale unless the store is inclusive. Must be called with
// the write lock held.
func (s *store) accept(id, field string, seq uint64) bool {
	if seq == 0 {
		return true
	}
	fields, ok := s.sequences[id]
	if !ok {
		fields = make(map[string]uint64)
		s.sequences[id] = fields
	}
	last := fields[field]
	if seq < last || (seq == last && !s.inclusive) {
		return false
	}
	fields[field] = seq
	return true
}

func entrySequence(event, entry uint64) uint64 {
	if entry != 0 {
		return entry
	}
	return event
}

func (s *store) get(id string) (*model.Appliance, error) {
	a, ok := s.appliances[id]
	if !ok {
		return nil, ErrUnknownAppliance
	}
	return a, nil
}

// UpsertAppliance stores a full snapshot of a, replacing any existing entry.
// It reports whether the appliance was new.
func (w *Writer) UpsertAppliance(a model.Appliance) bool {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	_, exists := w.s.appliances[a.ID]
	w.s.appliances[a.ID] = w.s.normalise(a)
	return !exists
}

// RemoveAppliance drops the appliance and its sequence markers.
func (w *Writer) RemoveAppliance(id string) bool {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if _, ok := w.s.appliances[id]; !ok {
		return false
	}
	delete(w.s.appliances, id)
	delete(w.s.sequences, id)
	return true
}

// ApplyStatus overwrites status entries in place and returns the keys whose
// value actually changed. Entries carrying a stale marker are skipped.
func (w *Writer) ApplyStatus(id string, seq uint64, entries []model.StatusEntry) ([]string, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	a, err := w.s.get(id)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, e := range entries {
		if !w.s.accept(id, statusPrefix+e.Key, entrySequence(seq, e.Sequence)) {
			continue
		}
		e.Sequence = 0
		old, ok := a.Status[e.Key]
		if ok && old.Value.Equal(e.Value) && old.Unit == e.Unit && old.DisplayValue == e.DisplayValue {
			continue
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = w.s.now()
		}
		a.Status[e.Key] = e
		a.AddCapability(e.Key)
		changed = append(changed, e.Key)
	}
	if len(changed) > 0 {
		a.UpdatedAt = w.s.now()
	}
	return changed, nil
}

// ApplySetting works like ApplyStatus. Known constraints are kept when the
// update does not carry its own.
func (w *Writer) ApplySetting(id string, seq uint64, entries []model.SettingEntry) ([]string, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	a, err := w.s.get(id)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, e := range entries {
		if !w.s.accept(id, settingPrefix+e.Key, entrySequence(seq, e.Sequence)) {
			continue
		}
		e.Sequence = 0
		old, ok := a.Settings[e.Key]
		if ok && old.Value.Equal(e.Value) && (e.Unit == "" || old.Unit == e.Unit) {
			continue
		}
		if ok {
			if e.Constraints == nil {
				e.Constraints = old.Constraints
			}
			if e.Unit == "" {
				e.Unit = old.Unit
			}
		}
		e.Constraints = e.Constraints.DeepCopy()
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = w.s.now()
		}
		a.Settings[e.Key] = e
		a.AddCapability(e.Key)
		changed = append(changed, e.Key)
	}
	if len(changed) > 0 {
		a.UpdatedAt = w.s.now()
	}
	return changed, nil
}

// ReplaceProgramState swaps the whole program state. It reports whether the
// stored state differs from before.
func (w *Writer) ReplaceProgramState(id string, seq uint64, ps model.ProgramState) (bool, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	a, err := w.s.get(id)
	if err != nil {
		return false, err
	}
	if !w.s.accept(id, programField, seq) || a.Program.Equal(ps) {
		return false, nil
	}
	a.Program = ps.DeepCopy()
	a.UpdatedAt = w.s.now()
	return true, nil
}

func (w *Writer) SetConnection(id string, seq uint64, cs model.ConnectionState) (bool, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	a, err := w.s.get(id)
	if err != nil {
		return false, err
	}
	if !w.s.accept(id, connectionField, seq) || a.Connection == cs {
		return false, nil
	}
	a.Connection = cs
	a.UpdatedAt = w.s.now()
	return true, nil
}

// SyncResult lists the appliance IDs touched by Replace, each sorted.
type SyncResult struct {
	Added     []string
	Removed   []string
	Refreshed []string
}

// Replace swaps the registry contents for snapshots. Appliances that are not
// part of snapshots are evicted. With resetSequences every sequence marker is
// forgotten, otherwise only the markers of evicted appliances are.
func (w *Writer) Replace(snapshots []model.Appliance, resetSequences bool) SyncResult {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	next := make(map[string]*model.Appliance, len(snapshots))
	for _, snap := range snapshots {
		next[snap.ID] = w.s.normalise(snap)
	}

	oldIDs := lo.Keys(w.s.appliances)
	newIDs := lo.Keys(next)
	res := SyncResult{
		Added:     lo.Without(newIDs, oldIDs...),
		Removed:   lo.Without(oldIDs, newIDs...),
		Refreshed: lo.Intersect(oldIDs, newIDs),
	}
	slices.Sort(res.Added)
	slices.Sort(res.Removed)
	slices.Sort(res.Refreshed)

	w.s.appliances = next
	if resetSequences {
		w.s.sequences = make(map[string]map[string]uint64)
	} else {
		for _, id := range res.Removed {
			delete(w.s.sequences, id)
		}
	}
	return res
}

// normalise deep copies a and makes sure its maps are usable.
func (s *store) normalise(a model.Appliance) *model.Appliance {
	out := a.DeepCopy()
	if out.Status == nil {
		out.Status = make(map[string]model.StatusEntry)
	}
	if out.Settings == nil {
		out.Settings = make(map[string]model.SettingEntry)
	}
	if out.Connection == "" {
		out.Connection = model.ConnectionUnknown
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = s.now()
	}
	return out
}
