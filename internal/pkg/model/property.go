package model

import (
	"slices"
	"strings"
	"time"
)

// Property is one flattened appliance value as written to the sinks and read
// back as history.
type Property struct {
	Id         int64     `json:"id"`
	TimeStamp  time.Time `json:"timestamp"`
	Unit       string    `json:"unit_of_measurement"`
	Value      string    `json:"value"`
	Identifier string    `json:"identifier"`
	Slug       string    `json:"slug"`
	Key        string    `json:"key"`
	// Numeric is false for text sensors such as enums or program names.
	Numeric bool `json:"numeric"`
}
type Properties []Property

// Pseudo keys for values that have no vendor key of their own.
const (
	KeyConnection       = "connection"
	KeyProgramPhase     = "program.phase"
	KeyRemainingSeconds = "program.remaining_seconds"
)

// Properties flattens a into one property per status entry, setting, program
// field and the connection state, sorted by key. When keys is not empty only
// matching keys are returned.
func (a *Appliance) Properties(keys ...string) Properties {
	want := func(key string) bool {
		return len(keys) == 0 || slices.Contains(keys, key)
	}
	out := Properties{}
	add := func(key string, v Value, unit string) {
		if v.IsZero() || !want(key) {
			return
		}
		out = append(out, Property{
			TimeStamp: a.UpdatedAt,
			Unit:      unit,
			Value:     v.String(),
			Key:       key,
			Numeric:   v.Kind == KindNumber,
		})
	}
	for key, s := range a.Status {
		add(key, s.Value, s.Unit)
	}
	for key, s := range a.Settings {
		add(key, s.Value, s.Unit)
	}
	if a.Program.Active != "" {
		add(KeyActiveProgram, StringValue(a.Program.Active), "")
	}
	if a.Program.Selected != "" {
		add(KeySelectedProgram, StringValue(a.Program.Selected), "")
	}
	if a.Program.Phase != "" {
		add(KeyProgramPhase, StringValue(a.Program.Phase), "")
	}
	if a.Program.Progress != nil {
		add(KeyProgramProgress, NumberValue(float64(*a.Program.Progress)), "%")
	}
	if a.Program.RemainingSeconds != nil {
		add(KeyRemainingSeconds, NumberValue(float64(*a.Program.RemainingSeconds)), "s")
	}
	for _, o := range a.Program.Options {
		add(o.Key, o.Value, o.Unit)
	}
	if a.Connection != "" {
		add(KeyConnection, StringValue(string(a.Connection)), "")
	}
	slices.SortFunc(out, func(x, y Property) int {
		return strings.Compare(x.Key, y.Key)
	})
	return out
}
