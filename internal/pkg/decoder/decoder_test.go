package decoder

import (
	"testing"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/pkg/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDecoder(opts ...func(*Decoder)) *Decoder {
	return New(append([]func(*Decoder){WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestDecode_Lifecycle(t *testing.T) {
	tests := map[string]struct {
		evt  sse.Event
		want model.Event
	}{
		"paired uses sse id": {
			evt: sse.Event{ID: "SIEMENS-WM-1", Type: TypePaired},
			want: model.Event{
				Type:        model.EventApplianceAdded,
				ApplianceID: "SIEMENS-WM-1",
				ReceivedAt:  fixedNow,
				Appliance:   &model.Appliance{ID: "SIEMENS-WM-1", Connection: model.ConnectionConnected},
			},
		},
		"depaired prefers payload haId": {
			evt:  sse.Event{ID: "other", Type: TypeDepaired, Data: []byte(`{"haId":"BOSCH-DW-2"}`)},
			want: model.Event{Type: model.EventApplianceRemoved, ApplianceID: "BOSCH-DW-2", ReceivedAt: fixedNow},
		},
		"connected": {
			evt:  sse.Event{ID: "A", Type: TypeConnected},
			want: model.Event{Type: model.EventConnectionChanged, ApplianceID: "A", ReceivedAt: fixedNow, Connection: model.ConnectionConnected},
		},
		"disconnected with sequence": {
			evt:  sse.Event{ID: "A", Type: TypeDisconnected, Data: []byte(`{"seq":7}`)},
			want: model.Event{Type: model.EventConnectionChanged, ApplianceID: "A", ReceivedAt: fixedNow, Sequence: 7, Connection: model.ConnectionDisconnected},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := newTestDecoder().Decode(tt.evt)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestDecode_KeepAlive(t *testing.T) {
	got, err := newTestDecoder().Decode(sse.Event{Type: TypeKeepAlive})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventKeepAlive, got[0].Type)
}

func TestDecode_Status(t *testing.T) {
	data := `{"haId":"A","seq":3,"items":[
		{"key":"BSH.Common.Status.DoorState","value":"BSH.Common.EnumType.DoorState.Open","timestamp":1700000000},
		{"key":"Cooking.Oven.Status.CurrentCavityTemperature","value":180,"unit":"°C","displayvalue":"180 °C"}
	]}`
	got, err := newTestDecoder().Decode(sse.Event{Type: TypeStatus, Data: []byte(data)})
	require.NoError(t, err)
	require.Len(t, got, 1)

	evt := got[0]
	assert.Equal(t, model.EventStatusChanged, evt.Type)
	assert.Equal(t, "A", evt.ApplianceID)
	assert.Equal(t, uint64(3), evt.Sequence)
	require.Len(t, evt.Status, 2)
	assert.Equal(t, model.Value{Kind: model.KindEnum, Str: "BSH.Common.EnumType.DoorState.Open"}, evt.Status[0].Value)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), evt.Status[0].UpdatedAt)
	assert.Equal(t, model.NumberValue(180), evt.Status[1].Value)
	assert.Equal(t, "°C", evt.Status[1].Unit)
	assert.Equal(t, "180 °C", evt.Status[1].DisplayValue)
	assert.Equal(t, fixedNow, evt.Status[1].UpdatedAt)
}

func TestDecode_NotifySplitsGroups(t *testing.T) {
	data := `{"haId":"A","items":[
		{"key":"BSH.Common.Option.RemainingProgramTime","value":1200,"unit":"seconds"},
		{"key":"BSH.Common.Setting.PowerState","value":"BSH.Common.EnumType.PowerState.On"},
		{"key":"BSH.Common.Root.ActiveProgram","value":"Dishcare.Dishwasher.Program.Eco50"},
		{"key":"BSH.Common.Status.OperationState","value":"BSH.Common.EnumType.OperationState.Run"},
		{"key":"Dishcare.Dishwasher.Option.ExtraDry","value":true},
		{"key":"BSH.Common.Option.ProgramProgress","value":40,"unit":"%"}
	]}`
	got, err := newTestDecoder().Decode(sse.Event{Type: TypeNotify, Data: []byte(data)})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, model.EventProgramStateChanged, got[0].Type)
	assert.Equal(t, model.EventSettingChanged, got[1].Type)
	assert.Equal(t, model.EventStatusChanged, got[2].Type)

	program := got[0].Program
	require.NotNil(t, program)
	assert.Equal(t, "Dishcare.Dishwasher.Program.Eco50", program.Active)
	require.NotNil(t, program.RemainingSeconds)
	assert.Equal(t, 1200, *program.RemainingSeconds)
	require.NotNil(t, program.Progress)
	assert.Equal(t, 40, *program.Progress)
	require.Len(t, program.Options, 1)
	assert.Equal(t, "Dishcare.Dishwasher.Option.ExtraDry", program.Options[0].Key)
	assert.Equal(t, model.BoolValue(true), program.Options[0].Value)

	require.Len(t, got[1].Settings, 1)
	assert.Equal(t, "BSH.Common.Setting.PowerState", got[1].Settings[0].Key)
	require.Len(t, got[2].Status, 1)
}

func TestDecode_EventItemsAreStatus(t *testing.T) {
	data := `{"haId":"A","items":[{"key":"BSH.Common.Event.ProgramFinished","value":"BSH.Common.EnumType.EventPresentState.Present"}]}`
	got, err := newTestDecoder().Decode(sse.Event{Type: TypeEvent, Data: []byte(data)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventStatusChanged, got[0].Type)
}

func TestDecode_SequencePolicy(t *testing.T) {
	data := []byte(`{"haId":"A","seq":9,"items":[
		{"key":"k1","value":1,"timestamp":100},
		{"key":"k2","value":2,"timestamp":250}
	]}`)
	tests := map[string]struct {
		policy SequencePolicy
		want   uint64
	}{
		"none":      {policy: SequenceNone, want: 0},
		"field":     {policy: SequenceField, want: 9},
		"timestamp": {policy: SequenceTimestamp, want: 250},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := newTestDecoder(WithSequencePolicy(tt.policy)).Decode(sse.Event{Type: TypeStatus, Data: data})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Sequence)
		})
	}
}

func TestDecode_TimestampMarkersPerItem(t *testing.T) {
	data := []byte(`{"haId":"A","items":[
		{"key":"BSH.Common.Status.DoorState","value":"Open","timestamp":100},
		{"key":"BSH.Common.Setting.PowerState","value":"On","timestamp":180},
		{"key":"BSH.Common.Status.OperationState","value":"Run","timestamp":250},
		{"key":"BSH.Common.Status.LocalControlActive","value":true}
	]}`)

	got, err := newTestDecoder(WithSequencePolicy(SequenceTimestamp)).Decode(sse.Event{Type: TypeNotify, Data: data})
	require.NoError(t, err)
	require.Len(t, got, 2)

	status := got[0]
	assert.Equal(t, uint64(250), status.Sequence)
	require.Len(t, status.Status, 3)
	assert.Equal(t, uint64(100), status.Status[0].Sequence)
	assert.Equal(t, uint64(250), status.Status[1].Sequence)
	assert.Zero(t, status.Status[2].Sequence)
	assert.Equal(t, []string{
		"BSH.Common.Status.DoorState",
		"BSH.Common.Status.OperationState",
		"BSH.Common.Status.LocalControlActive",
	}, status.Keys)

	require.Len(t, got[1].Settings, 1)
	assert.Equal(t, uint64(180), got[1].Settings[0].Sequence)
	assert.Equal(t, []string{"BSH.Common.Setting.PowerState"}, got[1].Keys)
}

func TestDecode_FieldPolicyLeavesEntryMarkersUnset(t *testing.T) {
	data := []byte(`{"haId":"A","seq":4,"items":[{"key":"k1","value":1,"timestamp":100}]}`)
	got, err := newTestDecoder().Decode(sse.Event{Type: TypeStatus, Data: data})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(4), got[0].Sequence)
	assert.Zero(t, got[0].Status[0].Sequence)
}

func TestDecode_Errors(t *testing.T) {
	tests := map[string]struct {
		evt     sse.Event
		wantErr error
	}{
		"unknown type": {
			evt:     sse.Event{ID: "A", Type: "FIRMWARE-UPDATE", Data: []byte(`{}`)},
			wantErr: ErrUnknownEventType,
		},
		"malformed json": {
			evt:     sse.Event{ID: "A", Type: TypeStatus, Data: []byte(`{"haId":`)},
			wantErr: ErrMalformedPayload,
		},
		"missing items": {
			evt:     sse.Event{Type: TypeNotify, Data: []byte(`{"haId":"A"}`)},
			wantErr: ErrMissingField,
		},
		"missing appliance id": {
			evt:     sse.Event{Type: TypeStatus, Data: []byte(`{"items":[]}`)},
			wantErr: ErrMissingField,
		},
		"missing item key": {
			evt:     sse.Event{Type: TypeStatus, Data: []byte(`{"haId":"A","items":[{"value":1}]}`)},
			wantErr: ErrMissingField,
		},
		"unsupported value": {
			evt:     sse.Event{Type: TypeStatus, Data: []byte(`{"haId":"A","items":[{"key":"k","value":{"x":1}}]}`)},
			wantErr: ErrMalformedPayload,
		},
		"lifecycle without id": {
			evt:     sse.Event{Type: TypeConnected},
			wantErr: ErrMissingField,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := newTestDecoder().Decode(tt.evt)
			assert.Nil(t, got)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			var decErr *DecodeError
			assert.ErrorAs(t, err, &decErr)
			assert.Equal(t, tt.evt.Type, decErr.Type)
		})
	}
}

func TestSequencePolicy_InclusiveMarkers(t *testing.T) {
	assert.True(t, SequenceTimestamp.InclusiveMarkers())
	assert.False(t, SequenceField.InclusiveMarkers())
	assert.False(t, SequenceNone.InclusiveMarkers())
}

func TestParseSequencePolicy(t *testing.T) {
	p, err := ParseSequencePolicy(" Timestamp ")
	require.NoError(t, err)
	assert.Equal(t, SequenceTimestamp, p)

	p, err = ParseSequencePolicy("")
	require.NoError(t, err)
	assert.Equal(t, SequenceField, p)

	_, err = ParseSequencePolicy("vector-clock")
	assert.Error(t, err)
}
