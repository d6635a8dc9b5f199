package cloud

import (
	"context"
	"net/http"
	"net/url"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
)

func (c *Client) SetSetting(ctx context.Context, applianceID, key string, value model.Value) error {
	return c.do(ctx, http.MethodPut, appliancePath(applianceID, "settings", url.PathEscape(key)), valueCommand{Key: key, Value: value.Interface()}, nil)
}

func (c *Client) SelectProgram(ctx context.Context, applianceID, program string, options ...model.Option) error {
	return c.do(ctx, http.MethodPut, appliancePath(applianceID, "programs", "selected"), newProgramCommand(program, options), nil)
}

func (c *Client) StartProgram(ctx context.Context, applianceID, program string, options ...model.Option) error {
	return c.do(ctx, http.MethodPut, appliancePath(applianceID, "programs", "active"), newProgramCommand(program, options), nil)
}

func (c *Client) StopProgram(ctx context.Context, applianceID string) error {
	return c.do(ctx, http.MethodDelete, appliancePath(applianceID, "programs", "active"), nil, nil)
}

// SetProgramOption changes one option of the selected program.
func (c *Client) SetProgramOption(ctx context.Context, applianceID, key string, value model.Value) error {
	return c.do(ctx, http.MethodPut, appliancePath(applianceID, "programs", "selected", "options", url.PathEscape(key)), valueCommand{Key: key, Value: value.Interface()}, nil)
}

func newProgramCommand(program string, options []model.Option) programCommand {
	cmd := programCommand{Key: program, Options: []valueCommand{}}
	for _, o := range options {
		cmd.Options = append(cmd.Options, valueCommand{Key: o.Key, Value: o.Value.Interface()})
	}
	return cmd
}
