package facturama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/alima/internal/taxinvoice/domain"
	"go.uber.org/zap"
)

var ErrMissingCredentials = errors.New("facturama_missing_credentials")

type Config struct {
	BaseURL        string
	Username       string
	Password       string
	Serie          string
	ExpeditionZip  string
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// Client issues CFDI 4.0 documents through the Facturama multi-issuer API.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" || strings.TrimSpace(cfg.Username) == "" {
		return nil, ErrMissingCredentials
	}
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		log:  log.Named("taxinvoice.facturama"),
	}, nil
}

func (c *Client) CreateCustomer(ctx context.Context, profile taxdomain.Profile) (string, error) {
	body := clientPayload{
		Email:        profile.Email,
		Rfc:          strings.ToUpper(strings.TrimSpace(profile.TaxID)),
		Name:         profile.LegalName,
		CfdiUse:      firstNonEmpty(profile.CFDIUse, taxdomain.DefaultCFDIUse),
		FiscalRegime: profile.FiscalRegime,
		TaxZipCode:   profile.TaxZipCode,
	}
	var out clientResponse
	if err := c.do(ctx, http.MethodPost, "/api/Client", body, &out); err != nil {
		return "", err
	}
	c.log.Info("taxinvoice.customer.created", zap.String("customer_ref", out.ID))
	return out.ID, nil
}

func (c *Client) CreateInvoice(ctx context.Context, req taxdomain.InvoiceRequest) (taxdomain.InvoiceResult, error) {
	if err := req.Validate(); err != nil {
		return taxdomain.InvoiceResult{}, err
	}
	payload := c.buildCFDI(req)

	var out cfdiResponse
	if err := c.do(ctx, http.MethodPost, "/3/cfdis", payload, &out); err != nil {
		return taxdomain.InvoiceResult{}, err
	}
	result := taxdomain.InvoiceResult{
		ID:           out.ID,
		Folio:        out.Folio,
		Result:       firstNonEmpty(out.Status, "active"),
		TaxStampUUID: out.Complement.TaxStamp.UUID,
	}
	c.log.Info("taxinvoice.issued",
		zap.String("tax_invoice_id", result.ID),
		zap.String("folio", result.Folio),
		zap.String("payment_method", string(req.Term)),
		zap.String("period", req.Period),
	)
	return result, nil
}

func (c *Client) GetPDF(ctx context.Context, id string) ([]byte, error) {
	return c.file(ctx, "pdf", id)
}

func (c *Client) GetXML(ctx context.Context, id string) ([]byte, error) {
	return c.file(ctx, "xml", id)
}

func (c *Client) CancelInvoice(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return taxdomain.ErrNotFound
	}
	endpoint := fmt.Sprintf("/api-lite/cfdis/%s?motive=%s", url.PathEscape(id), taxdomain.CancelMotiveIssuedWithErrors)
	if err := c.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return err
	}
	c.log.Info("taxinvoice.canceled", zap.String("tax_invoice_id", id))
	return nil
}

func (c *Client) file(ctx context.Context, format, id string) ([]byte, error) {
	if strings.TrimSpace(id) == "" {
		return nil, taxdomain.ErrNotFound
	}
	var out fileResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/cfdi/%s/issuedLite/%s", format, id), nil, &out); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(out.Content)
	if err != nil {
		return nil, fmt.Errorf("decode %s content: %w", format, err)
	}
	return data, nil
}

func (c *Client) buildCFDI(req taxdomain.InvoiceRequest) cfdiPayload {
	payload := cfdiPayload{
		NameID:          "1",
		Serie:           c.cfg.Serie,
		Currency:        firstNonEmpty(strings.ToUpper(req.Currency), "MXN"),
		ExpeditionPlace: c.cfg.ExpeditionZip,
		CfdiType:        "I",
		PaymentForm:     firstNonEmpty(req.PaymentForm, taxdomain.PaymentFormFor(req.Term, false)),
		PaymentMethod:   string(req.Term),
		Receiver: receiverPayload{
			Rfc:          strings.ToUpper(strings.TrimSpace(req.Receiver.TaxID)),
			Name:         req.Receiver.LegalName,
			CfdiUse:      firstNonEmpty(req.Receiver.CFDIUse, taxdomain.DefaultCFDIUse),
			FiscalRegime: req.Receiver.FiscalRegime,
			TaxZipCode:   req.Receiver.TaxZipCode,
		},
	}
	if req.GeneralPublic {
		payload.Receiver.Name = taxdomain.GeneralPublicName
		payload.Receiver.CfdiUse = taxdomain.GeneralPublicCFDIUse
		payload.Receiver.FiscalRegime = taxdomain.GeneralPublicRegime
		payload.Receiver.TaxZipCode = c.cfg.ExpeditionZip
		if month, year, ok := splitPeriod(req.Period); ok {
			payload.GlobalInformation = &globalInformation{
				Periodicity: "04",
				Months:      month,
				Year:        year,
			}
		}
	}

	vatRate := decimal.Zero
	for _, item := range req.Items {
		if item.Subtotal.IsPositive() {
			vatRate = item.Tax.Div(item.Subtotal).Round(2)
			break
		}
	}
	for i, item := range req.Items {
		payload.Items = append(payload.Items, itemPayload{
			ProductCode:          firstNonEmpty(item.Code, taxdomain.DefaultServiceCode),
			IdentificationNumber: fmt.Sprintf("%03d", i+1),
			Description:          item.Description,
			Unit:                 "Unidad de servicio",
			UnitCode:             taxdomain.DefaultServiceUnitCode,
			UnitPrice:            amount(item.UnitPrice),
			Quantity:             amount(item.Quantity),
			Subtotal:             amount(item.Subtotal),
			TaxObject:            "02",
			Taxes: []taxPayload{{
				Total:       amount(item.Tax),
				Name:        "IVA",
				Base:        amount(item.Subtotal),
				Rate:        amount(vatRate),
				IsRetention: false,
			}},
			Total: amount(item.Total),
		})
	}
	return payload
}

func splitPeriod(label string) (string, string, bool) {
	parts := strings.Split(label, "-")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 4 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// do sends one JSON request, retrying transport failures and 5xx responses.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	target := c.cfg.BaseURL + endpoint

	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Info("taxinvoice.request.retry",
				zap.String("method", method),
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		var body io.Reader
		if raw != nil {
			body = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		req.Header.Set("Accept", "application/json")
		if raw != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			lastErr = &taxdomain.IssuerError{Status: resp.StatusCode, Message: providerMessage(respBody)}
			continue
		case resp.StatusCode == http.StatusNotFound:
			return taxdomain.ErrNotFound
		case resp.StatusCode >= 400:
			issuerErr := &taxdomain.IssuerError{Status: resp.StatusCode, Message: providerMessage(respBody)}
			c.log.Warn("taxinvoice.request.rejected",
				zap.String("endpoint", endpoint),
				zap.Int("status", resp.StatusCode),
				zap.String("message", issuerErr.Message),
			)
			return issuerErr
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	c.log.Error("taxinvoice.request.failed",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Error(lastErr),
	)
	return lastErr
}

// providerMessage extracts the validation messages Facturama returns on
// rejection, falling back to the raw body.
func providerMessage(body []byte) string {
	var parsed struct {
		Message    string              `json:"Message"`
		ModelState map[string][]string `json:"ModelState"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return strings.TrimSpace(string(body))
	}
	parts := []string{}
	if parsed.Message != "" {
		parts = append(parts, parsed.Message)
	}
	for field, msgs := range parsed.ModelState {
		for _, msg := range msgs {
			parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
		}
	}
	if len(parts) == 0 {
		return strings.TrimSpace(string(body))
	}
	return strings.Join(parts, "; ")
}
