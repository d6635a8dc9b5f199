package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestValueOf(t *testing.T) {
	tests := map[string]struct {
		in   any
		want Value
	}{
		"enum":   {in: "BSH.Common.EnumType.PowerState.On", want: Value{Kind: KindEnum, Str: "BSH.Common.EnumType.PowerState.On"}},
		"string": {in: "hello", want: Value{Kind: KindString, Str: "hello"}},
		"number": {in: float64(42.5), want: Value{Kind: KindNumber, Num: 42.5}},
		"bool":   {in: true, want: Value{Kind: KindBool, Bool: true}},
		"nil":    {in: nil, want: Value{}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ValueOf(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Equal(tt.want))
		})
	}

	_, err := ValueOf([]string{"x"})
	assert.Error(t, err)
}

func TestValue_JSON(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`12`), &v))
	assert.Equal(t, NumberValue(12), v)

	data, err := json.Marshal(StringValue("BSH.Common.EnumType.DoorState.Open"))
	require.NoError(t, err)
	assert.JSONEq(t, `"BSH.Common.EnumType.DoorState.Open"`, string(data))
	assert.Equal(t, "12", v.String())
}

func TestConstraints_Validate(t *testing.T) {
	tests := map[string]struct {
		c       *Constraints
		v       Value
		wantErr bool
	}{
		"nil constraints":      {c: nil, v: NumberValue(5)},
		"within range":         {c: &Constraints{Min: ptr(30.0), Max: ptr(250.0)}, v: NumberValue(180)},
		"below min":            {c: &Constraints{Min: ptr(30.0)}, v: NumberValue(10), wantErr: true},
		"above max":            {c: &Constraints{Max: ptr(250.0)}, v: NumberValue(300), wantErr: true},
		"off step":             {c: &Constraints{Min: ptr(0.0), StepSize: ptr(5.0)}, v: NumberValue(12), wantErr: true},
		"on step":              {c: &Constraints{Min: ptr(0.0), StepSize: ptr(5.0)}, v: NumberValue(15)},
		"allowed enum":         {c: &Constraints{AllowedValues: []string{"A.EnumType.X", "A.EnumType.Y"}}, v: StringValue("A.EnumType.Y")},
		"not allowed enum":     {c: &Constraints{AllowedValues: []string{"A.EnumType.X"}}, v: StringValue("A.EnumType.Z"), wantErr: true},
		"read only":            {c: &Constraints{Access: "read"}, v: BoolValue(true), wantErr: true},
		"number range on bool": {c: &Constraints{Min: ptr(1.0)}, v: BoolValue(true), wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.c.Validate(tt.v)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConstraintViolation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAppliance_DeepCopy(t *testing.T) {
	a := &Appliance{
		ID:           "A",
		Capabilities: []string{"x"},
		Status:       map[string]StatusEntry{"s": {Key: "s", Value: BoolValue(true)}},
		Settings:     map[string]SettingEntry{"p": {Key: "p", Constraints: &Constraints{AllowedValues: []string{"a"}}}},
		Program:      ProgramState{Active: "prog", Progress: ptr(10), Available: []string{"prog"}},
	}
	cp := a.DeepCopy()
	cp.Capabilities[0] = "y"
	cp.Status["s"] = StatusEntry{Key: "s", Value: BoolValue(false)}
	cp.Settings["p"].Constraints.AllowedValues[0] = "b"
	*cp.Program.Progress = 99
	cp.Program.Available[0] = "other"

	assert.Equal(t, "x", a.Capabilities[0])
	assert.True(t, a.Status["s"].Value.Bool)
	assert.Equal(t, "a", a.Settings["p"].Constraints.AllowedValues[0])
	assert.Equal(t, 10, *a.Program.Progress)
	assert.Equal(t, "prog", a.Program.Available[0])
	assert.Nil(t, (*Appliance)(nil).DeepCopy())
}

func TestProgramState_Equal(t *testing.T) {
	a := ProgramState{Active: "p", Progress: ptr(5), Options: []Option{{Key: "o", Value: NumberValue(1)}}}
	b := a.DeepCopy()
	assert.True(t, a.Equal(b))
	*b.Progress = 6
	assert.False(t, a.Equal(b))
}

func TestProgramState_MergeOptions(t *testing.T) {
	stored := ProgramState{
		Active:           "Dishcare.Dishwasher.Program.Eco50",
		Progress:         ptr(10),
		RemainingSeconds: ptr(3600),
		Options: []Option{
			{Key: "Dishcare.Dishwasher.Option.ExtraDry", Name: "Extra dry", Value: BoolValue(false), Constraints: &Constraints{}},
		},
	}
	var update ProgramState
	update.ApplyOption(Option{Key: KeyRemainingProgramTime, Value: NumberValue(3540)})
	update.ApplyOption(Option{Key: "Dishcare.Dishwasher.Option.ExtraDry", Value: BoolValue(true)})
	update.ApplyOption(Option{Key: "Dishcare.Dishwasher.Option.HalfLoad", Value: BoolValue(true)})

	got := stored.MergeOptions(update)

	assert.Equal(t, "Dishcare.Dishwasher.Program.Eco50", got.Active)
	assert.Equal(t, 10, *got.Progress)
	assert.Equal(t, 3540, *got.RemainingSeconds)
	require.Len(t, got.Options, 2)
	assert.Equal(t, "Extra dry", got.Options[0].Name)
	assert.NotNil(t, got.Options[0].Constraints)
	assert.Equal(t, BoolValue(true), got.Options[0].Value)
	assert.Equal(t, "Dishcare.Dishwasher.Option.HalfLoad", got.Options[1].Key)

	assert.Equal(t, 3600, *stored.RemainingSeconds)
	assert.Equal(t, BoolValue(false), stored.Options[0].Value)
}

func TestAppliance_AddCapability(t *testing.T) {
	a := &Appliance{}
	assert.True(t, a.AddCapability("one"))
	assert.True(t, a.AddCapability("two"))
	assert.False(t, a.AddCapability("one"))
	assert.False(t, a.AddCapability(""))
	assert.Equal(t, []string{"one", "two"}, a.Capabilities)
}
