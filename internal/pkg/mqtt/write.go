package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/internal/pkg/publisher"
	"go.uber.org/zap"
)

func (s *service) Write(ctx context.Context, data model.Properties) error {
	for _, d := range data {
		if err := s.ensureSensor(ctx, d); err != nil {
			return err
		}
		if err := s.PublishData(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAppliance remembers the device block used by the discovery messages
// of the appliance's sensors.
func (s *service) RegisterAppliance(_ context.Context, a model.Appliance) error {
	identifier := publisher.Identifier(a.ID)
	s.devices.Store(identifier, defaultDevice(identifier, a))
	return nil
}

func (s *service) ensureSensor(ctx context.Context, d model.Property) error {
	topic := s.configTopic(d)
	if _, exists := s.configured.Load(topic); exists {
		return nil
	}
	payload, err := json.Marshal(s.registerMsg(d))
	if err != nil {
		return err
	}
	if err := wait(ctx, s.client.Publish(topic, 1, true, payload)); err != nil {
		return err
	}
	s.configured.Store(topic, struct{}{})
	s.logger.Debug("announced sensor", zap.String("topic", topic))
	return nil
}

func (s *service) PublishData(ctx context.Context, d model.Property) error {
	payload := map[string]string{
		"value": d.Value,
	}
	if d.Numeric && d.Unit != "" {
		payload["unit_of_measurement"] = d.Unit
	}
	publishData, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return wait(ctx, s.client.Publish(s.base(d)+"/state", 0, false, publishData))
}

func (s *service) base(d model.Property) string {
	return fmt.Sprintf("%s/sensor/%s/%s", s.prefix, d.Identifier, d.Slug)
}

func (s *service) configTopic(d model.Property) string {
	return s.base(d) + "/config"
}

func (s *service) registerMsg(d model.Property) model.RegisterMessage {
	device := model.RegisterDevice{Name: d.Identifier, Identifiers: []string{d.Identifier}}
	if v, ok := s.devices.Load(d.Identifier); ok {
		device = v.(model.RegisterDevice)
	}
	msg := model.RegisterMessage{
		Tilda:         s.base(d),
		Name:          d.Key,
		ID:            fmt.Sprintf("%s_%s", d.Identifier, d.Slug),
		StateTopic:    "~/state",
		ValueTemplate: "{{ value_json.value }}",
		Device:        device,
	}
	if d.Numeric {
		msg.UnitOfMeasurement = d.Unit
	}
	return msg
}

func defaultDevice(identifier string, a model.Appliance) model.RegisterDevice {
	name := a.Name
	if name == "" {
		name = a.ID
	}
	return model.RegisterDevice{
		Name:         name,
		Identifiers:  []string{identifier},
		Model:        a.Model,
		Manufacturer: a.Brand,
	}
}
