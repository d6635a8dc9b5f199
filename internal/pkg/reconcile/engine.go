// Package reconcile keeps the appliance registry in step with the vendor cloud.
//
// The Engine is a state machine:
//
//	Disconnected -> Syncing -> Live -> Reconnecting -> Syncing -> ...
//
// Disconnected is re-entered only when Run returns. The engine goroutine is the
// only caller of the registry Writer; local confirmations and resync requests
// reach it through an inbox.
package reconcile

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/internal/pkg/registry"
	"github.com/anicoll/homeconnect-integration/pkg/sse"
	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type Config struct {
	ConnectTimeout time.Duration
	FetchTimeout   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Jitter is the randomization factor applied to every backoff delay, 0 to 1.
	Jitter float64
	// MaxRetryAfter caps delays requested by the server, e.g. on HTTP 429.
	MaxRetryAfter time.Duration
	// DisabledAppliances are ignored in snapshots and events. IDs compare
	// case-insensitively with '-' equal to '_'.
	DisabledAppliances []string
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 30 * time.Second,
		FetchTimeout:   60 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Minute,
		Jitter:         0.2,
		MaxRetryAfter:  time.Hour,
	}
}

type commandKind int

const (
	cmdConfirmSetting commandKind = iota
	cmdRefreshProgram
	cmdResync
)

type command struct {
	kind        commandKind
	applianceID string
	settings    []model.SettingEntry
	reply       chan error
}

type Engine struct {
	cfg       Config
	transport Transport
	decoder   Decoder
	reader    *registry.Registry
	writer    *registry.Writer
	notifier  Notifier
	logger    *zap.Logger
	now       func() time.Time
	disabled  map[string]struct{}

	inbox chan command

	state     atomic.Int32
	mu        sync.Mutex
	active    chan struct{} // closed when the current Run returns
	listeners []func(from, to State)
}

func WithLogger(l *zap.Logger) func(*Engine) {
	return func(e *Engine) {
		e.logger = l
	}
}

func WithClock(now func() time.Time) func(*Engine) {
	return func(e *Engine) {
		e.now = now
	}
}

func New(cfg Config, transport Transport, decoder Decoder, reader *registry.Registry, writer *registry.Writer, notifier Notifier, opts ...func(*Engine)) *Engine {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = def.MaxRetryAfter
	}
	e := &Engine{
		cfg:       cfg,
		transport: transport,
		decoder:   decoder,
		reader:    reader,
		writer:    writer,
		notifier:  notifier,
		logger:    zap.L(),
		now:       time.Now,
		inbox:     make(chan command),
		disabled: lo.SliceToMap(cfg.DisabledAppliances, func(id string) (string, struct{}) {
			return normaliseID(id), struct{}{}
		}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func normaliseID(id string) string {
	return strings.ToLower(strings.ReplaceAll(id, "-", "_"))
}

func (e *Engine) isDisabled(id string) bool {
	_, ok := e.disabled[normaliseID(id)]
	return ok
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// OnStateChange registers f to be called on every transition, on the engine goroutine.
func (e *Engine) OnStateChange(f func(from, to State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, f)
}

func (e *Engine) setState(to State) {
	from := State(e.state.Swap(int32(to)))
	if from == to {
		return
	}
	e.logger.Info("sync state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	e.mu.Lock()
	listeners := append([]func(from, to State){}, e.listeners...)
	e.mu.Unlock()
	for _, f := range listeners {
		f(from, to)
	}
}

// Run drives the state machine until ctx is cancelled. It returns nil on
// cancellation and leaves the engine Disconnected.
func (e *Engine) Run(ctx context.Context) error {
	active := make(chan struct{})
	e.mu.Lock()
	if e.active != nil {
		select {
		case <-e.active:
		default:
			e.mu.Unlock()
			return ErrAlreadyRunning
		}
	}
	e.active = active
	e.mu.Unlock()
	defer func() {
		e.setState(StateDisconnected)
		close(active)
	}()

	bo := e.newBackOff()
	reconnect := false
	for {
		err := e.session(ctx, bo, reconnect)
		if ctx.Err() != nil {
			return nil
		}
		e.reportTransport(err)
		e.setState(StateReconnecting)
		reconnect = true

		delay := e.nextDelay(bo, err)
		e.logger.Warn("event stream lost, reconnecting", zap.Error(err), zap.Duration("backoff", delay))
		if !e.wait(ctx, delay) {
			return nil
		}
	}
}

// session runs one connect, sync and live cycle and returns why it ended.
func (e *Engine) session(ctx context.Context, bo backoff.BackOff, reconnect bool) error {
	stream, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			e.logger.Debug("closing event stream", zap.Error(err))
		}
	}()

	e.setState(StateSyncing)
	if err := e.syncWithRetry(ctx, bo, reconnect); err != nil {
		return err
	}
	bo.Reset()
	e.setState(StateLive)
	return e.live(ctx, stream)
}

func (e *Engine) connect(ctx context.Context) (EventStream, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()
	stream, err := e.transport.ConnectEventStream(cctx)
	if err != nil {
		return nil, asTransportError("connect", err)
	}
	return stream, nil
}

// syncWithRetry repeats the full sync until it succeeds, staying in Syncing.
func (e *Engine) syncWithRetry(ctx context.Context, bo backoff.BackOff, resetSequences bool) error {
	for {
		err := e.fullSync(ctx, resetSequences)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.reportTransport(err)
		delay := e.nextDelay(bo, err)
		e.logger.Warn("full sync failed, retrying", zap.Error(err), zap.Duration("backoff", delay))
		if !e.wait(ctx, delay) {
			return ctx.Err()
		}
	}
}

// fullSync replaces the registry contents with a fresh snapshot.
func (e *Engine) fullSync(ctx context.Context, resetSequences bool) error {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	snapshots, err := e.transport.FetchFullState(fctx)
	if err != nil {
		return asTransportError("fetch", err)
	}
	snapshots = lo.Filter(snapshots, func(a model.Appliance, _ int) bool {
		return !e.isDisabled(a.ID)
	})

	res := e.writer.Replace(snapshots, resetSequences)
	at := e.now()
	for _, id := range res.Removed {
		e.notifier.Publish(model.Change{ApplianceID: id, Kind: model.ChangeRemoved, At: at})
	}
	for _, id := range res.Added {
		e.notifier.Publish(model.Change{ApplianceID: id, Kind: model.ChangeAdded, At: at})
	}
	for _, id := range res.Refreshed {
		e.notifier.Publish(model.Change{ApplianceID: id, Kind: model.ChangeRefreshed, At: at})
	}
	e.logger.Info("full sync complete",
		zap.Int("appliances", len(snapshots)),
		zap.Int("added", len(res.Added)),
		zap.Int("removed", len(res.Removed)),
		zap.Bool("reset_sequences", resetSequences))
	return nil
}

func (e *Engine) live(ctx context.Context, stream EventStream) error {
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				err := stream.Err()
				if err == nil {
					err = io.EOF
				}
				return asTransportError("stream", err)
			}
			if err := e.handle(ctx, evt); err != nil {
				return err
			}
		case cmd := <-e.inbox:
			err := e.serve(ctx, cmd)
			cmd.reply <- err
			var te *TransportError
			if errors.As(err, &te) {
				return err
			}
		}
	}
}

// wait sleeps for d while still serving the inbox. It returns false when ctx
// is cancelled first.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case cmd := <-e.inbox:
			if cmd.kind == cmdResync {
				// a full sync follows the wait anyway
				cmd.reply <- nil
				continue
			}
			cmd.reply <- e.serve(ctx, cmd)
		}
	}
}

// handle decodes one stream message and applies the resulting events. Only a
// failed in-place resync is returned.
func (e *Engine) handle(ctx context.Context, raw sse.Event) error {
	events, err := e.decoder.Decode(raw)
	if err != nil {
		e.logger.Warn("dropping undecodable event", zap.Error(err), zap.String("type", raw.Type))
		e.notifier.Report(model.Diagnostic{Kind: model.DiagnosticDecode, ApplianceID: raw.ID, Err: err, At: e.now()})
		return nil
	}
	for _, evt := range events {
		err := e.apply(ctx, evt)
		var ce *ConsistencyError
		if errors.As(err, &ce) {
			e.logger.Warn("registry out of sync, resyncing", zap.Error(err))
			e.notifier.Report(model.Diagnostic{Kind: model.DiagnosticConsistency, ApplianceID: ce.ApplianceID, Err: err, At: e.now()})
			// the snapshot also covers the remaining events of this message
			return e.fullSync(ctx, false)
		}
		if err != nil {
			e.logger.Error("failed to apply event", zap.Error(err), zap.String("appliance", evt.ApplianceID))
		}
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, evt model.Event) error {
	if evt.Type == model.EventKeepAlive || e.isDisabled(evt.ApplianceID) {
		return nil
	}
	at := evt.ReceivedAt
	if at.IsZero() {
		at = e.now()
	}
	publish := func(kind model.ChangeKind, keys []string) {
		e.notifier.Publish(model.Change{ApplianceID: evt.ApplianceID, Kind: kind, Keys: keys, At: at})
	}

	switch evt.Type {
	case model.EventApplianceAdded:
		snap := e.hydrateAppliance(ctx, evt)
		if e.writer.UpsertAppliance(snap) {
			publish(model.ChangeAdded, nil)
		} else {
			publish(model.ChangeRefreshed, nil)
		}
		return nil
	case model.EventApplianceRemoved:
		if e.writer.RemoveAppliance(evt.ApplianceID) {
			publish(model.ChangeRemoved, nil)
		}
		return nil
	}

	if !e.reader.Has(evt.ApplianceID) {
		return &ConsistencyError{ApplianceID: evt.ApplianceID, EventType: evt.Type}
	}

	var err error
	switch evt.Type {
	case model.EventStatusChanged:
		var keys []string
		if keys, err = e.writer.ApplyStatus(evt.ApplianceID, evt.Sequence, evt.Status); len(keys) > 0 {
			publish(model.ChangeStatus, keys)
		}
	case model.EventSettingChanged:
		var keys []string
		if keys, err = e.writer.ApplySetting(evt.ApplianceID, evt.Sequence, evt.Settings); len(keys) > 0 {
			publish(model.ChangeSetting, keys)
		}
	case model.EventProgramStateChanged:
		var changed bool
		ps := e.hydrateProgram(ctx, evt)
		if changed, err = e.writer.ReplaceProgramState(evt.ApplianceID, evt.Sequence, ps); changed {
			publish(model.ChangeProgram, nil)
		}
	case model.EventConnectionChanged:
		var changed bool
		if changed, err = e.writer.SetConnection(evt.ApplianceID, evt.Sequence, evt.Connection); changed {
			publish(model.ChangeConnection, nil)
			if evt.Connection == model.ConnectionConnected && e.reload(ctx, evt.ApplianceID) {
				publish(model.ChangeRefreshed, nil)
			}
		}
	}
	if errors.Is(err, registry.ErrUnknownAppliance) {
		return &ConsistencyError{ApplianceID: evt.ApplianceID, EventType: evt.Type}
	}
	return err
}

func (e *Engine) hydrateAppliance(ctx context.Context, evt model.Event) model.Appliance {
	snap := model.Appliance{ID: evt.ApplianceID, Connection: model.ConnectionConnected}
	if evt.Appliance != nil {
		snap = *evt.Appliance.DeepCopy()
	}
	if full, ok := e.fetchAppliance(ctx, evt.ApplianceID); ok {
		return full
	}
	return snap
}

// reload replaces an appliance that came back online with a fresh snapshot.
// Appliances that were offline during a sync are stored with partial data.
func (e *Engine) reload(ctx context.Context, id string) bool {
	full, ok := e.fetchAppliance(ctx, id)
	if !ok {
		return false
	}
	full.ID = id
	full.Connection = model.ConnectionConnected
	e.writer.UpsertAppliance(full)
	return true
}

func (e *Engine) fetchAppliance(ctx context.Context, id string) (model.Appliance, bool) {
	f, ok := e.transport.(ApplianceFetcher)
	if !ok {
		return model.Appliance{}, false
	}
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	full, err := f.FetchAppliance(fctx, id)
	if err != nil {
		e.logger.Warn("failed to load appliance, keeping partial data", zap.Error(err), zap.String("appliance", id))
		e.reportTransport(asTransportError("fetch appliance", err))
		return model.Appliance{}, false
	}
	return full, true
}

// hydrateProgram builds the program state that replaces the stored one. Option
// updates such as progress are applied to the stored state; a change of the
// active or selected program is loaded from the cloud.
func (e *Engine) hydrateProgram(ctx context.Context, evt model.Event) model.ProgramState {
	if evt.Program != nil && !lo.Contains(evt.Keys, model.KeyActiveProgram) && !lo.Contains(evt.Keys, model.KeySelectedProgram) {
		stored, _ := e.reader.Get(evt.ApplianceID)
		return stored.Program.MergeOptions(*evt.Program)
	}
	var ps model.ProgramState
	if evt.Program != nil {
		ps = evt.Program.DeepCopy()
	}
	f, ok := e.transport.(ProgramFetcher)
	if !ok {
		return ps
	}
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	full, err := f.FetchProgramState(fctx, evt.ApplianceID)
	if err != nil {
		e.logger.Warn("failed to load program state, using event payload", zap.Error(err), zap.String("appliance", evt.ApplianceID))
		return ps
	}
	return full
}

func (e *Engine) serve(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdConfirmSetting:
		keys, err := e.writer.ApplySetting(cmd.applianceID, 0, cmd.settings)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			e.notifier.Publish(model.Change{ApplianceID: cmd.applianceID, Kind: model.ChangeSetting, Keys: keys, At: e.now()})
		}
		return nil
	case cmdRefreshProgram:
		if !e.reader.Has(cmd.applianceID) {
			return registry.ErrUnknownAppliance
		}
		return e.apply(ctx, model.Event{Type: model.EventProgramStateChanged, ApplianceID: cmd.applianceID, ReceivedAt: e.now()})
	case cmdResync:
		return e.fullSync(ctx, false)
	}
	return nil
}

func (e *Engine) send(ctx context.Context, cmd command) error {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if active == nil {
		return ErrNotRunning
	}
	cmd.reply = make(chan error, 1)
	select {
	case e.inbox <- cmd:
	case <-active:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-active:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConfirmSetting records a setting change the cloud has accepted.
func (e *Engine) ConfirmSetting(ctx context.Context, applianceID string, entries ...model.SettingEntry) error {
	return e.send(ctx, command{kind: cmdConfirmSetting, applianceID: applianceID, settings: entries})
}

// RefreshProgram reloads the program state of one appliance.
func (e *Engine) RefreshProgram(ctx context.Context, applianceID string) error {
	return e.send(ctx, command{kind: cmdRefreshProgram, applianceID: applianceID})
}

// RequestResync asks for a full sync while staying connected. When the engine
// is not Live the request is absorbed by the sync that is already pending.
func (e *Engine) RequestResync(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdResync})
}

func (e *Engine) reportTransport(err error) {
	if err == nil {
		return
	}
	e.notifier.Report(model.Diagnostic{Kind: model.DiagnosticTransport, Err: err, At: e.now()})
}
