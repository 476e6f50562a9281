package billingevent

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	eventdomain "github.com/smallbiznis/alima/internal/billingevent/domain"
	"github.com/smallbiznis/alima/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_billing_event_config")

type EmitterParams struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Publisher eventdomain.Publisher
	Exchange  string `name:"billing_exchange" optional:"true"`
}

// Emitter stamps events with a ULID and publishes them with the event type
// as routing key.
type Emitter struct {
	log       *zap.Logger
	clock     clock.Clock
	publisher eventdomain.Publisher
	exchange  string
}

func NewEmitter(p EmitterParams) (*Emitter, error) {
	if p.Log == nil || p.Clock == nil || p.Publisher == nil {
		return nil, ErrInvalidConfig
	}
	exchange := p.Exchange
	if exchange == "" {
		exchange = eventdomain.DefaultExchange
	}
	return &Emitter{
		log:       p.Log.Named("billingevent"),
		clock:     p.Clock,
		publisher: p.Publisher,
		exchange:  exchange,
	}, nil
}

func (e *Emitter) Emit(ctx context.Context, eventType string, accountID snowflake.ID, period string, data map[string]any) (eventdomain.Event, error) {
	if !eventdomain.ValidType(eventType) {
		return eventdomain.Event{}, eventdomain.ErrUnknownEventType
	}
	now := e.clock.Now()
	event := eventdomain.Event{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:       eventType,
		AccountID:  accountID,
		Period:     period,
		OccurredAt: now,
		Data:       data,
	}
	if err := e.publisher.Publish(ctx, e.exchange, eventType, event); err != nil {
		e.log.Warn("billingevent.publish_failed",
			zap.String("type", eventType),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return event, err
	}
	return event, nil
}
