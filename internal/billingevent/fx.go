package billingevent

import (
	"context"

	eventdomain "github.com/smallbiznis/alima/internal/billingevent/domain"
	"github.com/smallbiznis/alima/internal/billingevent/publisher"
	"github.com/smallbiznis/alima/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billingevent",
	fx.Provide(providePublisher),
	fx.Provide(fx.Annotate(provideExchange, fx.ResultTags(`name:"billing_exchange"`))),
	fx.Provide(NewEmitter),
)

func provideExchange(cfg config.Config) string {
	return cfg.RabbitMQ.Exchange
}

// providePublisher dials RabbitMQ when configured. A broker that cannot be
// reached at boot degrades to the logging publisher.
func providePublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) eventdomain.Publisher {
	var pub eventdomain.Publisher
	if cfg.RabbitMQ.URL == "" {
		log.Warn("billingevent.broker.unconfigured", zap.String("env", "RABBITMQ_URL"))
		pub = publisher.NewLogging(log)
	} else if amqpPub, err := publisher.NewAMQP(cfg.RabbitMQ.URL, log); err != nil {
		log.Error("billingevent.broker.unavailable", zap.Error(err))
		pub = publisher.NewLogging(log)
	} else {
		pub = amqpPub
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub
}
