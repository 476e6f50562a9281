package noop

import (
	"context"
	"fmt"
	"sync/atomic"

	taxdomain "github.com/smallbiznis/alima/internal/taxinvoice/domain"
	"go.uber.org/zap"
)

// Issuer stands in for the tax provider when no credentials are configured.
// It returns synthetic ids and empty artifacts.
type Issuer struct {
	log   *zap.Logger
	folio atomic.Int64
}

func New(log *zap.Logger) *Issuer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Issuer{log: log.Named("taxinvoice.noop")}
}

func (i *Issuer) CreateCustomer(ctx context.Context, profile taxdomain.Profile) (string, error) {
	return "noop-" + profile.TaxID, nil
}

func (i *Issuer) CreateInvoice(ctx context.Context, req taxdomain.InvoiceRequest) (taxdomain.InvoiceResult, error) {
	if err := req.Validate(); err != nil {
		return taxdomain.InvoiceResult{}, err
	}
	n := i.folio.Add(1)
	i.log.Info("taxinvoice.noop.issued", zap.String("period", req.Period), zap.Int64("folio", n))
	return taxdomain.InvoiceResult{
		ID:     fmt.Sprintf("noop-%s-%d", req.Period, n),
		Folio:  fmt.Sprintf("%d", n),
		Result: "noop",
	}, nil
}

func (i *Issuer) GetPDF(ctx context.Context, id string) ([]byte, error) {
	return nil, nil
}

func (i *Issuer) GetXML(ctx context.Context, id string) ([]byte, error) {
	return nil, nil
}

func (i *Issuer) CancelInvoice(ctx context.Context, id string) error {
	i.log.Info("taxinvoice.noop.canceled", zap.String("tax_invoice_id", id))
	return nil
}
