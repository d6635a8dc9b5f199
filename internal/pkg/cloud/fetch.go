package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func appliancePath(id string, parts ...string) string {
	p := "/api/homeappliances/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// FetchFullState lists the paired appliances and loads every one of them,
// FetchConcurrency at a time.
func (c *Client) FetchFullState(ctx context.Context) ([]model.Appliance, error) {
	var list homeAppliancesData
	if err := c.do(ctx, http.MethodGet, "/api/homeappliances", nil, &list); err != nil {
		return nil, fmt.Errorf("listing appliances: %w", err)
	}

	out := make([]model.Appliance, len(list.HomeAppliances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.FetchConcurrency)
	for i, ha := range list.HomeAppliances {
		g.Go(func() error {
			a, err := c.load(gctx, ha)
			if err != nil {
				return fmt.Errorf("loading appliance %s: %w", ha.HaID, err)
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchAppliance loads a single appliance, used when one gets paired.
func (c *Client) FetchAppliance(ctx context.Context, id string) (model.Appliance, error) {
	var ha homeAppliance
	if err := c.do(ctx, http.MethodGet, appliancePath(id), nil, &ha); err != nil {
		return model.Appliance{}, err
	}
	return c.load(ctx, ha)
}

// load fills in status, settings and programs. An offline appliance, or one
// that does not support a resource, is returned with what could be read and
// marked disconnected.
func (c *Client) load(ctx context.Context, ha homeAppliance) (model.Appliance, error) {
	a := ha.toModel()
	if !ha.Connected {
		return a, nil
	}
	offline := false
	check := func(what string, err error) error {
		if err == nil {
			return nil
		}
		if absent(err) {
			if errors.Is(err, ErrDeviceOffline) {
				offline = true
			}
			c.logger.Debug("appliance resource unavailable", zap.String("appliance", a.ID), zap.String("resource", what), zap.Error(err))
			return nil
		}
		return fmt.Errorf("%s: %w", what, err)
	}

	status, err := c.fetchStatus(ctx, a.ID)
	if err := check("status", err); err != nil {
		return a, err
	}
	for _, s := range status {
		a.Status[s.Key] = s
		a.AddCapability(s.Key)
	}

	settings, err := c.fetchSettings(ctx, a.ID)
	if err := check("settings", err); err != nil {
		return a, err
	}
	for _, s := range settings {
		a.Settings[s.Key] = s
		a.AddCapability(s.Key)
	}

	program, err := c.FetchProgramState(ctx, a.ID)
	if err := check("programs", err); err != nil {
		return a, err
	}
	a.Program = program
	for _, key := range program.Available {
		a.AddCapability(key)
	}

	if offline {
		a.Connection = model.ConnectionDisconnected
	}
	return a, nil
}

func (c *Client) fetchStatus(ctx context.Context, id string) ([]model.StatusEntry, error) {
	var data statusData
	if err := c.do(ctx, http.MethodGet, appliancePath(id, "status"), nil, &data); err != nil {
		return nil, err
	}
	now := c.now()
	out := make([]model.StatusEntry, 0, len(data.Status))
	for _, it := range data.Status {
		out = append(out, model.StatusEntry{
			Key:          it.Key,
			Value:        it.value(),
			Unit:         it.Unit,
			DisplayValue: it.DisplayValue,
			UpdatedAt:    now,
		})
	}
	return out, nil
}

// fetchSettings lists the settings and then reads each one for its constraints.
func (c *Client) fetchSettings(ctx context.Context, id string) ([]model.SettingEntry, error) {
	var data settingsData
	if err := c.do(ctx, http.MethodGet, appliancePath(id, "settings"), nil, &data); err != nil {
		return nil, err
	}
	now := c.now()
	out := make([]model.SettingEntry, 0, len(data.Settings))
	for _, listed := range data.Settings {
		it := listed
		var detail itemData
		if err := c.do(ctx, http.MethodGet, appliancePath(id, "settings", url.PathEscape(listed.Key)), nil, &detail); err == nil {
			it = detail
		} else if !absent(err) {
			return nil, err
		}
		out = append(out, model.SettingEntry{
			Key:         listed.Key,
			Value:       it.value(),
			Unit:        it.Unit,
			Constraints: it.Constraints.toModel(),
			UpdatedAt:   now,
		})
	}
	return out, nil
}

// FetchProgramState reads the available, selected and active programs.
func (c *Client) FetchProgramState(ctx context.Context, id string) (model.ProgramState, error) {
	var ps model.ProgramState

	var available programsData
	err := c.do(ctx, http.MethodGet, appliancePath(id, "programs", "available"), nil, &available)
	if err != nil && !absent(err) {
		return ps, err
	}
	for _, p := range available.Programs {
		ps.Available = append(ps.Available, p.Key)
	}

	var selected programData
	err = c.do(ctx, http.MethodGet, appliancePath(id, "programs", "selected"), nil, &selected)
	if err != nil && !absent(err) {
		return ps, err
	}
	ps.Selected = selected.Key

	var active programData
	err = c.do(ctx, http.MethodGet, appliancePath(id, "programs", "active"), nil, &active)
	if err != nil && !absent(err) {
		return ps, err
	}
	ps.Active = active.Key

	// options describe the running program, or the selected one when idle
	source := active
	if source.Key == "" {
		source = selected
	}
	for _, it := range source.Options {
		ps.ApplyOption(source.option(it))
	}
	return ps, nil
}
