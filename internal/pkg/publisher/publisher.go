package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/contxt"
	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/internal/pkg/notify"
	"github.com/gosimple/slug"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var ErrAlreadyRegistered = errors.New("publisher already registered")

// Sink receives flattened appliance values.
type Sink interface {
	Write(ctx context.Context, data model.Properties) error
	RegisterAppliance(ctx context.Context, appliance model.Appliance) error
}

// Source is the appliance registry the publisher follows.
type Source interface {
	GetAppliance(id string) (model.Appliance, bool)
	SubscribeFilter(f notify.Filter, cb func(model.Change)) notify.Handle
}

type Publisher struct {
	source  Source
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	sinks   map[string]Sink
	sensors sync.Map
}

func WithLogger(l *zap.Logger) func(*Publisher) {
	return func(p *Publisher) {
		p.logger = l
	}
}

// WithTimeout bounds every sink call.
func WithTimeout(d time.Duration) func(*Publisher) {
	return func(p *Publisher) {
		p.timeout = d
	}
}

func New(source Source, opts ...func(*Publisher)) *Publisher {
	p := &Publisher{
		source:  source,
		logger:  zap.L(),
		timeout: 10 * time.Second,
		now:     time.Now,
		sinks:   map[string]Sink{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Publisher) Register(name string, sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sinks[name]; ok {
		return ErrAlreadyRegistered
	}
	p.sinks[name] = sink
	return nil
}

// Subscribe starts following every change of the source.
func (p *Publisher) Subscribe() notify.Handle {
	return p.source.SubscribeFilter(notify.Filter{}, p.Handle)
}

// Handle publishes the values touched by c to all sinks.
func (p *Publisher) Handle(c model.Change) {
	if c.Kind == model.ChangeRemoved {
		p.forget(Identifier(c.ApplianceID))
		return
	}
	a, ok := p.source.GetAppliance(c.ApplianceID)
	if !ok {
		return
	}
	if c.Kind == model.ChangeAdded || c.Kind == model.ChangeRefreshed {
		p.registerAppliance(a)
	}
	p.publish(a, selectProperties(a, c))
}

func selectProperties(a model.Appliance, c model.Change) model.Properties {
	switch c.Kind {
	case model.ChangeStatus, model.ChangeSetting:
		if len(c.Keys) > 0 {
			return a.Properties(c.Keys...)
		}
	case model.ChangeConnection:
		return a.Properties(model.KeyConnection)
	case model.ChangeProgram:
		return lo.Filter(a.Properties(), func(p model.Property, _ int) bool {
			return model.IsProgramKey(p.Key) || p.Key == model.KeyProgramPhase || p.Key == model.KeyRemainingSeconds
		})
	}
	return a.Properties()
}

func (p *Publisher) publish(a model.Appliance, props model.Properties) {
	identifier := Identifier(a.ID)
	data := make(model.Properties, 0, len(props))
	for _, prop := range props {
		prop.Identifier = identifier
		prop.Slug = Slug(prop.Key)
		if prop.TimeStamp.IsZero() {
			prop.TimeStamp = p.now()
		}
		if !p.shouldUpdate(identifier, prop.Slug, prop.Value) {
			continue
		}
		data = append(data, prop)
	}
	if len(data) == 0 {
		return
	}
	for name, sink := range p.snapshot() {
		ctx, cancel := contxt.NewContext(context.Background(), p.timeout)
		err := sink.Write(ctx, data)
		cancel()
		if err != nil {
			p.logger.Error("failed to publish data", zap.Error(err), zap.String("publisher", name))
			continue
		}
		p.logger.Debug("updated sensors", zap.Int("count", len(data)), zap.String("publisher", name))
	}
}

func (p *Publisher) registerAppliance(a model.Appliance) {
	for name, sink := range p.snapshot() {
		ctx, cancel := contxt.NewContext(context.Background(), p.timeout)
		err := sink.RegisterAppliance(ctx, a)
		cancel()
		if err != nil {
			p.logger.Error("failed to register appliance", zap.Error(err), zap.String("publisher", name))
			continue
		}
		p.logger.Debug("registered appliance", zap.String("appliance", a.ID), zap.String("publisher", name))
	}
}

func (p *Publisher) snapshot() map[string]Sink {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Sink, len(p.sinks))
	for k, v := range p.sinks {
		out[k] = v
	}
	return out
}

func (p *Publisher) shouldUpdate(identifier, sensor, newValue string) bool {
	key := fmt.Sprintf("%s/%s", identifier, sensor)
	oldValue, exists := p.sensors.Load(key)
	if exists && strings.EqualFold(newValue, oldValue.(string)) {
		return false
	}
	if !exists {
		p.logger.Info("configured sensor", zap.String("appliance", identifier), zap.String("sensor", sensor), zap.String("value", newValue))
	}
	p.sensors.Store(key, newValue)
	return true
}

func (p *Publisher) forget(identifier string) {
	prefix := identifier + "/"
	p.sensors.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			p.sensors.Delete(k)
		}
		return true
	})
}

// Identifier is the sink identifier of an appliance, e.g.
// SIEMENS-HCS02DWH1-6BE58C2D5FE3 becomes siemens_hcs02dwh1_6be58c2d5fe3.
func Identifier(applianceID string) string {
	return strings.ReplaceAll(slug.Make(applianceID), "-", "_")
}

// Slug is the sensor slug of a vendor key.
func Slug(key string) string {
	return strings.ReplaceAll(slug.Make(key), "-", "_")
}
