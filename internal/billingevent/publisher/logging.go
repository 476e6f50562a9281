package publisher

import (
	"context"

	eventdomain "github.com/smallbiznis/alima/internal/billingevent/domain"
	"go.uber.org/zap"
)

// Logging records events instead of publishing them. Used when no broker
// is configured.
type Logging struct {
	log *zap.Logger
}

func NewLogging(log *zap.Logger) *Logging {
	return &Logging{log: log.Named("billingevent.fallback")}
}

func (p *Logging) Publish(ctx context.Context, exchange, routingKey string, event eventdomain.Event) error {
	p.log.Info("billingevent.logged",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.String("event_id", event.ID),
		zap.String("account_id", event.AccountID.String()),
		zap.String("period", event.Period),
	)
	return nil
}

func (p *Logging) Close() error { return nil }
