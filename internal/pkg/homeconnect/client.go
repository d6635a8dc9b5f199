// Package homeconnect is the caller facing sync client. It owns one registry,
// one reconcile engine and one notification hub.
package homeconnect

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/anicoll/homeconnect-integration/internal/pkg/decoder"
	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/internal/pkg/notify"
	"github.com/anicoll/homeconnect-integration/internal/pkg/reconcile"
	"github.com/anicoll/homeconnect-integration/internal/pkg/registry"
	"go.uber.org/zap"
)

var (
	ErrCommandsUnsupported = errors.New("transport does not support commands")
	ErrUnknownProgram      = errors.New("program not available on appliance")
	ErrUnknownAppliance    = registry.ErrUnknownAppliance
)

// Commander sends commands to appliances. cloud.Client implements it.
type Commander interface {
	SetSetting(ctx context.Context, applianceID, key string, value model.Value) error
	SelectProgram(ctx context.Context, applianceID, program string, options ...model.Option) error
	StartProgram(ctx context.Context, applianceID, program string, options ...model.Option) error
	StopProgram(ctx context.Context, applianceID string) error
}

type Config struct {
	Sync           reconcile.Config
	SequencePolicy decoder.SequencePolicy
	// QueueSize is the per subscriber notification buffer.
	QueueSize int
}

type Client struct {
	reg      *registry.Registry
	engine   *reconcile.Engine
	hub      *notify.Hub
	commands Commander
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type clientOptions struct {
	logger *zap.Logger
}

func WithLogger(l *zap.Logger) func(*clientOptions) {
	return func(o *clientOptions) {
		o.logger = l
	}
}

func New(cfg Config, transport reconcile.Transport, opts ...func(*clientOptions)) *Client {
	o := clientOptions{logger: zap.L()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.SequencePolicy == "" {
		cfg.SequencePolicy = decoder.SequenceField
	}
	var regOpts []registry.Option
	if cfg.SequencePolicy.InclusiveMarkers() {
		regOpts = append(regOpts, registry.WithInclusiveSequences())
	}
	reg, w := registry.New(regOpts...)
	hub := notify.New(notify.WithQueueSize(cfg.QueueSize), notify.WithLogger(o.logger.Named("notify")))
	dec := decoder.New(decoder.WithSequencePolicy(cfg.SequencePolicy))
	c := &Client{
		reg:    reg,
		hub:    hub,
		engine: reconcile.New(cfg.Sync, transport, dec, reg, w, hub, reconcile.WithLogger(o.logger.Named("sync"))),
		logger: o.logger,
	}
	if cmd, ok := transport.(Commander); ok {
		c.commands = cmd
	}
	return c
}

// Start begins syncing in the background. It returns immediately and does
// nothing when the client is already running. Cancelling ctx stops the client.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	go func() {
		defer close(done)
		if err := c.engine.Run(runCtx); err != nil {
			c.logger.Error("sync engine stopped", zap.Error(err))
		}
	}()
}

// Stop cancels syncing, closes the event stream and waits until the engine is
// Disconnected. Stopping a stopped client is a no-op.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the client and all subscriber goroutines.
func (c *Client) Close() {
	c.Stop()
	c.hub.Close()
}

func (c *Client) State() reconcile.State {
	return c.engine.State()
}

func (c *Client) OnStateChange(f func(from, to reconcile.State)) {
	c.engine.OnStateChange(f)
}

func (c *Client) GetAppliance(id string) (model.Appliance, bool) {
	return c.reg.Get(id)
}

func (c *Client) ListAppliances() []model.Appliance {
	return c.reg.List()
}

// Subscribe registers cb for changes of one appliance, or of every appliance
// when applianceID is empty.
func (c *Client) Subscribe(applianceID string, cb func(model.Change)) notify.Handle {
	return c.hub.Subscribe(notify.Filter{ApplianceID: applianceID}, cb)
}

func (c *Client) SubscribeFilter(f notify.Filter, cb func(model.Change)) notify.Handle {
	return c.hub.Subscribe(f, cb)
}

func (c *Client) SubscribeDiagnostics(cb func(model.Diagnostic)) notify.Handle {
	return c.hub.SubscribeDiagnostics(cb)
}

func (c *Client) Unsubscribe(h notify.Handle) bool {
	return c.hub.Unsubscribe(h)
}

// Resync forces a full sync without dropping the event stream.
func (c *Client) Resync(ctx context.Context) error {
	return c.engine.RequestResync(ctx)
}

// SetSetting validates value against the known constraints, sends it and
// records it locally once the cloud has accepted it.
func (c *Client) SetSetting(ctx context.Context, applianceID, key string, value model.Value) error {
	if c.commands == nil {
		return ErrCommandsUnsupported
	}
	a, ok := c.reg.Get(applianceID)
	if !ok {
		return ErrUnknownAppliance
	}
	if s, ok := a.Settings[key]; ok {
		if err := s.Constraints.Validate(value); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}
	if err := c.commands.SetSetting(ctx, applianceID, key, value); err != nil {
		return err
	}
	err := c.engine.ConfirmSetting(ctx, applianceID, model.SettingEntry{Key: key, Value: value})
	if errors.Is(err, reconcile.ErrNotRunning) {
		return nil
	}
	return err
}

func (c *Client) SelectProgram(ctx context.Context, applianceID, program string, options ...model.Option) error {
	if err := c.checkProgram(applianceID, program, options); err != nil {
		return err
	}
	if err := c.commands.SelectProgram(ctx, applianceID, program, options...); err != nil {
		return err
	}
	return c.refreshProgram(ctx, applianceID)
}

func (c *Client) StartProgram(ctx context.Context, applianceID, program string, options ...model.Option) error {
	if err := c.checkProgram(applianceID, program, options); err != nil {
		return err
	}
	if err := c.commands.StartProgram(ctx, applianceID, program, options...); err != nil {
		return err
	}
	return c.refreshProgram(ctx, applianceID)
}

func (c *Client) StopProgram(ctx context.Context, applianceID string) error {
	if c.commands == nil {
		return ErrCommandsUnsupported
	}
	if _, ok := c.reg.Get(applianceID); !ok {
		return ErrUnknownAppliance
	}
	if err := c.commands.StopProgram(ctx, applianceID); err != nil {
		return err
	}
	return c.refreshProgram(ctx, applianceID)
}

// checkProgram rejects programs the appliance does not offer and option values
// outside the constraints of the current program.
func (c *Client) checkProgram(applianceID, program string, options []model.Option) error {
	if c.commands == nil {
		return ErrCommandsUnsupported
	}
	a, ok := c.reg.Get(applianceID)
	if !ok {
		return ErrUnknownAppliance
	}
	if len(a.Program.Available) > 0 && !slices.Contains(a.Program.Available, program) {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, program)
	}
	for _, o := range options {
		idx := slices.IndexFunc(a.Program.Options, func(known model.Option) bool { return known.Key == o.Key })
		if idx < 0 {
			continue
		}
		if err := a.Program.Options[idx].Constraints.Validate(o.Value); err != nil {
			return fmt.Errorf("option %s: %w", o.Key, err)
		}
	}
	return nil
}

func (c *Client) refreshProgram(ctx context.Context, applianceID string) error {
	err := c.engine.RefreshProgram(ctx, applianceID)
	if errors.Is(err, reconcile.ErrNotRunning) {
		return nil
	}
	return err
}
