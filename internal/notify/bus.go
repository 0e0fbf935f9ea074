package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// Bus channel and stream names for execution events.
const (
	EventsChannel = "kalshiexec:events"
	EventsStream  = "kalshiexec:events:stream"
)

// WireEvent is the JSON form of an Event on the bus.
type WireEvent struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Text      string         `json:"text"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// EncodeEvent marshals ev for the bus.
func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(WireEvent{
		Type:      ev.Type,
		Title:     ev.Title,
		Text:      ev.Text,
		Data:      ev.Data,
		Timestamp: ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// BusSender publishes events to the live channel and appends them to the
// durable stream.
type BusSender struct {
	bus domain.SignalBus
}

// NewBusSender creates a BusSender on bus.
func NewBusSender(bus domain.SignalBus) *BusSender {
	return &BusSender{bus: bus}
}

// Send appends to the stream first so a published event is always
// replayable.
func (b *BusSender) Send(ctx context.Context, ev Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", ev.Type, err)
	}
	if err := b.bus.StreamAppend(ctx, EventsStream, payload); err != nil {
		return err
	}
	return b.bus.Publish(ctx, EventsChannel, payload)
}

// Name returns "bus".
func (b *BusSender) Name() string {
	return "bus"
}
