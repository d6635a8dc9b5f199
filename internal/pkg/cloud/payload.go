package cloud

import (
	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
)

type envelope[T any] struct {
	Data  T          `json:"data"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

type homeAppliancesData struct {
	HomeAppliances []homeAppliance `json:"homeappliances"`
}

type homeAppliance struct {
	HaID      string `json:"haId"`
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	Type      string `json:"type"`
	VIB       string `json:"vib"`
	ENumber   string `json:"enumber"`
	Connected bool   `json:"connected"`
}

type statusData struct {
	Status []itemData `json:"status"`
}

type settingsData struct {
	Settings []itemData `json:"settings"`
}

type itemData struct {
	Key          string           `json:"key"`
	Name         string           `json:"name,omitempty"`
	Value        any              `json:"value,omitempty"`
	Unit         string           `json:"unit,omitempty"`
	DisplayValue string           `json:"displayvalue,omitempty"`
	Constraints  *constraintsData `json:"constraints,omitempty"`
}

type constraintsData struct {
	Min           *float64 `json:"min,omitempty"`
	Max           *float64 `json:"max,omitempty"`
	StepSize      *float64 `json:"stepsize,omitempty"`
	AllowedValues []string `json:"allowedvalues,omitempty"`
	Access        string   `json:"access,omitempty"`
}

type programsData struct {
	Programs []programData `json:"programs"`
}

type programData struct {
	Key     string     `json:"key"`
	Name    string     `json:"name,omitempty"`
	Options []itemData `json:"options,omitempty"`
}

type valueCommand struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type programCommand struct {
	Key     string         `json:"key"`
	Options []valueCommand `json:"options"`
}

func (a homeAppliance) toModel() model.Appliance {
	conn := model.ConnectionDisconnected
	if a.Connected {
		conn = model.ConnectionConnected
	}
	return model.Appliance{
		ID:         a.HaID,
		Name:       a.Name,
		Brand:      a.Brand,
		Type:       a.Type,
		Model:      a.VIB,
		Connection: conn,
		Status:     map[string]model.StatusEntry{},
		Settings:   map[string]model.SettingEntry{},
	}
}

func (c *constraintsData) toModel() *model.Constraints {
	if c == nil {
		return nil
	}
	return &model.Constraints{
		Min:           c.Min,
		Max:           c.Max,
		StepSize:      c.StepSize,
		AllowedValues: c.AllowedValues,
		Access:        c.Access,
	}
}

func (it itemData) value() model.Value {
	v, err := model.ValueOf(it.Value)
	if err != nil {
		return model.StringValue(it.DisplayValue)
	}
	return v
}

func (p programData) option(it itemData) model.Option {
	return model.Option{
		Key:         it.Key,
		Name:        it.Name,
		Value:       it.value(),
		Unit:        it.Unit,
		Constraints: it.Constraints.toModel(),
	}
}
