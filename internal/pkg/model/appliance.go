package model

import (
	"slices"
	"time"
)

type ConnectionState string

func (cs ConnectionState) String() string {
	return string(cs)
}

const (
	ConnectionUnknown      ConnectionState = "unknown"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
)

// Appliance is the full state snapshot of one registered home appliance.
type Appliance struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	Brand        string                  `json:"brand"`
	Type         string                  `json:"type"`
	Model        string                  `json:"model"`
	Connection   ConnectionState         `json:"connection"`
	Capabilities []string                `json:"capabilities"`
	Status       map[string]StatusEntry  `json:"status"`
	Settings     map[string]SettingEntry `json:"settings"`
	Program      ProgramState            `json:"program"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

type StatusEntry struct {
	Key          string    `json:"key"`
	Value        Value     `json:"value"`
	Unit         string    `json:"unit,omitempty"`
	DisplayValue string    `json:"display_value,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	// Sequence overrides the event marker for this entry when set.
	Sequence uint64 `json:"-"`
}

type SettingEntry struct {
	Key         string       `json:"key"`
	Value       Value        `json:"value"`
	Unit        string       `json:"unit,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
	// Sequence overrides the event marker for this entry when set.
	Sequence uint64 `json:"-"`
}

type Option struct {
	Key         string       `json:"key"`
	Name        string       `json:"name,omitempty"`
	Value       Value        `json:"value"`
	Unit        string       `json:"unit,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`
}

// ProgramState is replaced as a whole in the registry, never patched in place.
type ProgramState struct {
	Active           string   `json:"active,omitempty"`
	Selected         string   `json:"selected,omitempty"`
	Phase            string   `json:"phase,omitempty"`
	Progress         *int     `json:"progress,omitempty"`          // percent
	RemainingSeconds *int     `json:"remaining_seconds,omitempty"` // of the active program
	Options          []Option `json:"options,omitempty"`
	Available        []string `json:"available,omitempty"`
}

// Equal reports whether both program states describe the same program.
func (ps ProgramState) Equal(o ProgramState) bool {
	if ps.Active != o.Active || ps.Selected != o.Selected || ps.Phase != o.Phase {
		return false
	}
	if !equalIntPtr(ps.Progress, o.Progress) || !equalIntPtr(ps.RemainingSeconds, o.RemainingSeconds) {
		return false
	}
	if !slices.Equal(ps.Available, o.Available) {
		return false
	}
	return slices.EqualFunc(ps.Options, o.Options, func(a, b Option) bool {
		return a.Key == b.Key && a.Unit == b.Unit && a.Value.Equal(b.Value)
	})
}

func (ps ProgramState) DeepCopy() ProgramState {
	out := ps
	out.Progress = copyIntPtr(ps.Progress)
	out.RemainingSeconds = copyIntPtr(ps.RemainingSeconds)
	out.Available = slices.Clone(ps.Available)
	if ps.Options != nil {
		out.Options = make([]Option, len(ps.Options))
		for i, o := range ps.Options {
			o.Constraints = o.Constraints.DeepCopy()
			out.Options[i] = o
		}
	}
	return out
}

// DeepCopy returns a copy that shares no maps or slices with a.
func (a *Appliance) DeepCopy() *Appliance {
	if a == nil {
		return nil
	}
	out := *a
	out.Capabilities = slices.Clone(a.Capabilities)
	if a.Status != nil {
		out.Status = make(map[string]StatusEntry, len(a.Status))
		for k, v := range a.Status {
			out.Status[k] = v
		}
	}
	if a.Settings != nil {
		out.Settings = make(map[string]SettingEntry, len(a.Settings))
		for k, v := range a.Settings {
			v.Constraints = v.Constraints.DeepCopy()
			out.Settings[k] = v
		}
	}
	out.Program = a.Program.DeepCopy()
	return &out
}

// AddCapability appends key to the capability set unless it is already present.
func (a *Appliance) AddCapability(key string) bool {
	if key == "" || slices.Contains(a.Capabilities, key) {
		return false
	}
	a.Capabilities = append(a.Capabilities, key)
	return true
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
