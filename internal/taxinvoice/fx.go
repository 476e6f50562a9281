package taxinvoice

import (
	"errors"

	"github.com/smallbiznis/alima/internal/config"
	"github.com/smallbiznis/alima/internal/taxinvoice/adapters/facturama"
	"github.com/smallbiznis/alima/internal/taxinvoice/adapters/noop"
	taxdomain "github.com/smallbiznis/alima/internal/taxinvoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("taxinvoice",
	fx.Provide(NewIssuer),
)

// NewIssuer builds the Facturama client, or the noop issuer when credentials
// are absent.
func NewIssuer(cfg config.Config, log *zap.Logger) (taxdomain.Issuer, error) {
	client, err := facturama.New(facturama.Config{
		BaseURL:        cfg.Invoicer.BaseURL,
		Username:       cfg.Invoicer.Username,
		Password:       cfg.Invoicer.Password,
		Serie:          cfg.Invoicer.Serie,
		ExpeditionZip:  cfg.Invoicer.ExpeditionZip,
		MaxRetries:     cfg.Invoicer.MaxRetries,
		RequestTimeout: cfg.Invoicer.RequestTimeout,
	}, log)
	if errors.Is(err, facturama.ErrMissingCredentials) {
		if cfg.IsProduction() {
			return nil, err
		}
		log.Warn("taxinvoice.issuer.unconfigured", zap.String("env", "FACTURAMA_USER"))
		return noop.New(log), nil
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}
