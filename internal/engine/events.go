package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"

	"github.com/cfilipov/edged/internal/model"
)

// Event is a supervised-object lifecycle event worth triggering a reconcile
// round over: container start/stop/die/health changes, and network/image/
// volume create/destroy.
type Event struct {
	Type        string
	Action      string
	ContainerID string
	AppID       int
	ServiceName string
}

// Events subscribes to the engine's event stream, filtered to supervised
// containers plus all network/image/volume activity, and translates each
// into an Event. The returned channels close when ctx is cancelled or the
// stream ends.
func (e *SDKEngine) Events(ctx context.Context) (<-chan Event, <-chan error) {
	out := make(chan Event, 64)
	outErr := make(chan error, 1)

	opts := events.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("type", string(events.ContainerEventType)),
			filters.Arg("type", string(events.NetworkEventType)),
			filters.Arg("type", string(events.ImageEventType)),
			filters.Arg("type", string(events.VolumeEventType)),
			filters.Arg("label", model.LabelSupervised+"=true"),
		),
	}

	msgCh, errCh := e.cli.Events(ctx, opts)

	go func() {
		defer close(out)
		defer close(outErr)

		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}

				action := string(msg.Action)
				if msg.Type == events.ContainerEventType {
					switch msg.Action {
					case events.ActionStart, events.ActionStop, events.ActionDie,
						events.ActionPause, events.ActionUnPause,
						events.ActionDestroy, events.ActionCreate:
					default:
						if !strings.HasPrefix(action, "health_status") {
							continue
						}
					}
				}

				evt := Event{Type: string(msg.Type), Action: action}
				if msg.Type == events.ContainerEventType {
					evt.ContainerID = msg.Actor.ID
					evt.ServiceName = msg.Actor.Attributes[model.LabelServiceName]
					if id, err := strconv.Atoi(msg.Actor.Attributes[model.LabelAppID]); err == nil {
						evt.AppID = id
					}
				}

				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}

			case err, ok := <-errCh:
				if !ok {
					return
				}
				select {
				case outErr <- err:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return out, outErr
}
