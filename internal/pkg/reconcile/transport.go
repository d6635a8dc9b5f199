package reconcile

import (
	"context"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/pkg/sse"
)

// EventStream is an open event subscription. Events is closed when the
// stream ends, after which Err reports the cause.
type EventStream interface {
	Events() <-chan sse.Event
	Err() error
	Close() error
}

// Transport is the vendor cloud as seen by the engine. The context passed to
// ConnectEventStream bounds establishing the stream only; an open stream lives
// until it fails or is closed.
type Transport interface {
	ConnectEventStream(ctx context.Context) (EventStream, error)
	FetchFullState(ctx context.Context) ([]model.Appliance, error)
}

// ApplianceFetcher is implemented by transports that can load a single
// appliance. It is used to hydrate newly paired appliances.
type ApplianceFetcher interface {
	FetchAppliance(ctx context.Context, id string) (model.Appliance, error)
}

// ProgramFetcher is implemented by transports that can load the current
// program state of one appliance.
type ProgramFetcher interface {
	FetchProgramState(ctx context.Context, id string) (model.ProgramState, error)
}

type Decoder interface {
	Decode(evt sse.Event) ([]model.Event, error)
}

type Notifier interface {
	Publish(c model.Change)
	Report(d model.Diagnostic)
}
