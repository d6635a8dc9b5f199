// Package decoder turns raw vendor stream messages into typed model events.
package decoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/pkg/sse"
)

// Vendor event types as sent in the SSE "event" field.
const (
	TypeKeepAlive    = "KEEP-ALIVE"
	TypePaired       = "PAIRED"
	TypeDepaired     = "DEPAIRED"
	TypeConnected    = "CONNECTED"
	TypeDisconnected = "DISCONNECTED"
	TypeStatus       = "STATUS"
	TypeNotify       = "NOTIFY"
	TypeEvent        = "EVENT"
)

// SequencePolicy selects where the per appliance sequence marker comes from.
type SequencePolicy string

const (
	SequenceNone      SequencePolicy = "none"      // last write wins
	SequenceField     SequencePolicy = "field"     // payload "seq" or "sequence"
	SequenceTimestamp SequencePolicy = "timestamp" // item timestamp in seconds
)

// InclusiveMarkers reports whether a marker equal to the last accepted one must
// still be applied. Timestamp markers have a resolution of one second, so two
// updates of a key within the same second share a marker. Status and setting
// entries carry their own item timestamp; the program group uses the newest.
func (p SequencePolicy) InclusiveMarkers() bool {
	return p == SequenceTimestamp
}

func ParseSequencePolicy(s string) (SequencePolicy, error) {
	switch p := SequencePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case SequenceNone, SequenceField, SequenceTimestamp:
		return p, nil
	case "":
		return SequenceField, nil
	default:
		return "", fmt.Errorf("unknown sequence policy %q", s)
	}
}

type Decoder struct {
	policy SequencePolicy
	now    func() time.Time
}

func WithSequencePolicy(p SequencePolicy) func(*Decoder) {
	return func(d *Decoder) {
		d.policy = p
	}
}

func WithClock(now func() time.Time) func(*Decoder) {
	return func(d *Decoder) {
		d.now = now
	}
}

func New(opts ...func(*Decoder)) *Decoder {
	d := &Decoder{
		policy: SequenceField,
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type payload struct {
	HaID     string  `json:"haId"`
	Seq      *uint64 `json:"seq"`
	Sequence *uint64 `json:"sequence"`
	Items    *[]item `json:"items"`
}

type item struct {
	Key          string `json:"key"`
	Value        any    `json:"value"`
	Unit         string `json:"unit"`
	DisplayValue string `json:"displayvalue"`
	Timestamp    int64  `json:"timestamp"`
	URI          string `json:"uri"`
}

// Decode maps one SSE message to zero or more events for a single appliance.
// A NOTIFY message mixing settings, program options and status values yields one
// event per group, ordered by the first item of each group.
func (d *Decoder) Decode(evt sse.Event) ([]model.Event, error) {
	receivedAt := d.now()
	switch evt.Type {
	case TypeKeepAlive:
		return []model.Event{{Type: model.EventKeepAlive, ApplianceID: evt.ID, ReceivedAt: receivedAt}}, nil
	case TypePaired, TypeDepaired, TypeConnected, TypeDisconnected:
		return d.decodeLifecycle(evt, receivedAt)
	case TypeStatus, TypeEvent, TypeNotify:
		return d.decodeItems(evt, receivedAt)
	default:
		return nil, &DecodeError{Type: evt.Type, ApplianceID: evt.ID, Err: ErrUnknownEventType}
	}
}

func (d *Decoder) parse(evt sse.Event) (payload, error) {
	var p payload
	dec := json.NewDecoder(bytes.NewReader(evt.Data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return p, &DecodeError{Type: evt.Type, ApplianceID: evt.ID, Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
	}
	return p, nil
}

func (d *Decoder) decodeLifecycle(evt sse.Event, receivedAt time.Time) ([]model.Event, error) {
	var p payload
	if len(bytes.TrimSpace(evt.Data)) > 0 {
		var err error
		if p, err = d.parse(evt); err != nil {
			return nil, err
		}
	}
	id := applianceID(p, evt)
	if id == "" {
		return nil, &DecodeError{Type: evt.Type, Err: fmt.Errorf("%w: haId", ErrMissingField)}
	}
	out := model.Event{ApplianceID: id, ReceivedAt: receivedAt, Sequence: d.fieldSequence(p)}
	switch evt.Type {
	case TypePaired:
		out.Type = model.EventApplianceAdded
		out.Appliance = &model.Appliance{ID: id, Connection: model.ConnectionConnected}
	case TypeDepaired:
		out.Type = model.EventApplianceRemoved
	case TypeConnected:
		out.Type = model.EventConnectionChanged
		out.Connection = model.ConnectionConnected
	case TypeDisconnected:
		out.Type = model.EventConnectionChanged
		out.Connection = model.ConnectionDisconnected
	}
	return []model.Event{out}, nil
}

func (d *Decoder) decodeItems(evt sse.Event, receivedAt time.Time) ([]model.Event, error) {
	p, err := d.parse(evt)
	if err != nil {
		return nil, err
	}
	id := applianceID(p, evt)
	if id == "" {
		return nil, &DecodeError{Type: evt.Type, Err: fmt.Errorf("%w: haId", ErrMissingField)}
	}
	if p.Items == nil {
		return nil, &DecodeError{Type: evt.Type, ApplianceID: id, Err: fmt.Errorf("%w: items", ErrMissingField)}
	}

	var (
		order    []model.EventType
		groups   = map[model.EventType]*model.Event{}
		newestTS = map[model.EventType]int64{}
	)
	group := func(t model.EventType) *model.Event {
		g, ok := groups[t]
		if !ok {
			g = &model.Event{Type: t, ApplianceID: id, ReceivedAt: receivedAt}
			groups[t] = g
			order = append(order, t)
		}
		return g
	}

	for i, it := range *p.Items {
		if it.Key == "" {
			return nil, &DecodeError{Type: evt.Type, ApplianceID: id, Err: fmt.Errorf("%w: items[%d].key", ErrMissingField, i)}
		}
		val, err := model.ValueOf(it.Value)
		if err != nil {
			return nil, &DecodeError{Type: evt.Type, ApplianceID: id, Err: fmt.Errorf("%w: items[%d].value: %v", ErrMalformedPayload, i, err)}
		}
		updatedAt := receivedAt
		if it.Timestamp > 0 {
			updatedAt = time.Unix(it.Timestamp, 0).UTC()
		}

		t := classify(evt.Type, it.Key)
		g := group(t)
		g.Keys = append(g.Keys, it.Key)
		if it.Timestamp > newestTS[t] {
			newestTS[t] = it.Timestamp
		}
		var itemSeq uint64
		if d.policy == SequenceTimestamp && it.Timestamp > 0 {
			itemSeq = uint64(it.Timestamp)
		}
		switch t {
		case model.EventSettingChanged:
			g.Settings = append(g.Settings, model.SettingEntry{Key: it.Key, Value: val, Unit: it.Unit, UpdatedAt: updatedAt, Sequence: itemSeq})
		case model.EventProgramStateChanged:
			if g.Program == nil {
				g.Program = &model.ProgramState{}
			}
			applyProgramItem(g.Program, it, val)
		default:
			g.Status = append(g.Status, model.StatusEntry{
				Key:          it.Key,
				Value:        val,
				Unit:         it.Unit,
				DisplayValue: it.DisplayValue,
				UpdatedAt:    updatedAt,
				Sequence:     itemSeq,
			})
		}
	}

	out := make([]model.Event, 0, len(order))
	for _, t := range order {
		g := groups[t]
		switch d.policy {
		case SequenceField:
			g.Sequence = d.fieldSequence(p)
		case SequenceTimestamp:
			g.Sequence = uint64(max(newestTS[t], 0))
		}
		out = append(out, *g)
	}
	return out, nil
}

func (d *Decoder) fieldSequence(p payload) uint64 {
	if d.policy != SequenceField {
		return 0
	}
	switch {
	case p.Seq != nil:
		return *p.Seq
	case p.Sequence != nil:
		return *p.Sequence
	}
	return 0
}

func applianceID(p payload, evt sse.Event) string {
	if p.HaID != "" {
		return p.HaID
	}
	return evt.ID
}

// classify decides which part of the appliance an item key belongs to.
// STATUS and EVENT messages only ever carry status values.
func classify(vendorType, key string) model.EventType {
	if vendorType != TypeNotify {
		return model.EventStatusChanged
	}
	switch {
	case model.IsSettingKey(key):
		return model.EventSettingChanged
	case model.IsProgramKey(key):
		return model.EventProgramStateChanged
	default:
		return model.EventStatusChanged
	}
}

func applyProgramItem(ps *model.ProgramState, it item, val model.Value) {
	switch it.Key {
	case model.KeyActiveProgram:
		ps.Active = val.String()
	case model.KeySelectedProgram:
		ps.Selected = val.String()
	default:
		ps.ApplyOption(model.Option{Key: it.Key, Value: val, Unit: it.Unit})
	}
}
