package payment

import (
	"context"
	"errors"

	"github.com/smallbiznis/alima/internal/config"
	"github.com/smallbiznis/alima/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	"github.com/smallbiznis/alima/internal/payment/repository"
	paymentservice "github.com/smallbiznis/alima/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrProviderNotConfigured = errors.New("payment_provider_not_configured")

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideProvider),
	fx.Provide(provideVerifier),
	fx.Provide(paymentservice.NewCollector),
	fx.Provide(paymentservice.NewSettlement),
)

func provideProvider(cfg config.Config, log *zap.Logger) (paymentdomain.Provider, error) {
	adapter, err := stripe.New(stripe.Config{
		SecretKey:         cfg.Stripe.SecretKey,
		APIURL:            cfg.Stripe.APIURL,
		MaxNetworkRetries: cfg.Stripe.MaxNetworkRetries,
	}, log)
	if errors.Is(err, stripe.ErrMissingSecretKey) {
		log.Warn("payment.provider.unconfigured", zap.String("env", "STRIPE_SECRET_KEY"))
		return unconfigured{}, nil
	}
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

func provideVerifier(cfg config.Config) paymentdomain.WebhookVerifier {
	return stripe.NewWebhook(cfg.Stripe.WebhookSecret)
}

type unconfigured struct{}

func (unconfigured) ListCards(context.Context, string) ([]paymentdomain.Card, error) {
	return nil, ErrProviderNotConfigured
}

func (unconfigured) IsDefaultCard(context.Context, string, string) (bool, error) {
	return false, ErrProviderNotConfigured
}

func (unconfigured) CreateCardIntent(context.Context, paymentdomain.CardIntentRequest) (paymentdomain.IntentResult, error) {
	return paymentdomain.IntentResult{}, ErrProviderNotConfigured
}

func (unconfigured) CreateTransferIntent(context.Context, paymentdomain.TransferIntentRequest) (paymentdomain.TransferIntentResult, error) {
	return paymentdomain.TransferIntentResult{}, ErrProviderNotConfigured
}
