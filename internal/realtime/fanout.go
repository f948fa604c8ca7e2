// Package realtime delivers persisted access events to live subscribers:
// dashboards on the WebSocket hub and integrations on MQTT.
package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-access/internal/event"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// Broadcaster pushes an access event to live feed clients whose
// subscription matches it. It is satisfied by *api.Hub.
type Broadcaster interface {
	PublishAccessEvent(e *event.AccessEvent)
}

// MQTTPublisher publishes JSON payloads. It is satisfied by *mqtt.Client.
type MQTTPublisher interface {
	PublishJSON(topic string, v any) error
}

// Fanout publishes every event to each configured sink. It implements
// ingest.Publisher.
type Fanout struct {
	hub  Broadcaster
	mqtt MQTTPublisher
}

// New creates a Fanout. Either sink may be nil.
func New(hub Broadcaster, mq MQTTPublisher) *Fanout {
	return &Fanout{hub: hub, mqtt: mq}
}

// Publish sends e to the hub and to graylogic/core/access/{device_id}.
// A failing sink does not stop the others; their errors are joined.
func (f *Fanout) Publish(ctx context.Context, e *event.AccessEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	if f.hub != nil {
		f.hub.PublishAccessEvent(e)
	}
	if f.mqtt != nil {
		if err := f.mqtt.PublishJSON(mqtt.Topics{}.AccessEvent(e.DeviceID), e); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	return errors.Join(errs...)
}
