package stripe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/alima/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedRequest struct {
	method         string
	path           string
	form           url.Values
	idempotencyKey string
}

type fakeStripe struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))
	if r.Method == http.MethodGet {
		form = r.URL.Query()
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		method:         r.Method,
		path:           r.URL.Path,
		form:           form,
		idempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	f.handler(w, r)
}

func (f *fakeStripe) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestAdapter(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Adapter, *fakeStripe) {
	t.Helper()
	fake := &fakeStripe{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	adapter, err := New(Config{
		SecretKey:         "sk_test_123",
		APIURL:            srv.URL,
		MaxNetworkRetries: 0,
		HTTPClient:        srv.Client(),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return adapter, fake
}

func TestNewRequiresSecretKey(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrMissingSecretKey)
}

func TestListCards(t *testing.T) {
	adapter, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"object": "list",
			"url": "/v1/payment_methods",
			"has_more": false,
			"data": [
				{"id": "pm_1", "object": "payment_method", "type": "card",
				 "card": {"brand": "visa", "last4": "4242", "exp_month": 12, "exp_year": 2030}},
				{"id": "pm_2", "object": "payment_method", "type": "card",
				 "card": {"brand": "mastercard", "last4": "4444", "exp_month": 1, "exp_year": 2031}}
			]
		}`)
	})

	cards, err := adapter.ListCards(context.Background(), "cus_1")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "pm_1", cards[0].ID)
	assert.Equal(t, "4242", cards[0].Last4)
	assert.Equal(t, "visa", cards[0].Brand)

	req := fake.last()
	assert.Equal(t, "/v1/payment_methods", req.path)
	assert.Equal(t, "cus_1", req.form.Get("customer"))
	assert.Equal(t, "card", req.form.Get("type"))
}

func TestListCardsRequiresCustomer(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := adapter.ListCards(context.Background(), " ")
	assert.ErrorIs(t, err, paymentdomain.ErrMissingCustomerRef)
}

func TestIsDefaultCard(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id": "cus_1", "object": "customer",
			"invoice_settings": {"default_payment_method": "pm_2"}}`)
	})

	ok, err := adapter.IsDefaultCard(context.Background(), "cus_1", "pm_2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.IsDefaultCard(context.Background(), "cus_1", "pm_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateCardIntentSucceeded(t *testing.T) {
	adapter, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id": "pi_1", "object": "payment_intent", "status": "succeeded", "amount": 116000}`)
	})

	res, err := adapter.CreateCardIntent(context.Background(), paymentdomain.CardIntentRequest{
		CustomerRef:    "cus_1",
		CardID:         "pm_1",
		Amount:         decimal.RequireFromString("1160.00"),
		Currency:       "MXN",
		Description:    "Alima 03-2024",
		Metadata:       map[string]string{paymentdomain.MetadataAttempt: "2", paymentdomain.MetadataInvoiceLabel: "03-2024"},
		IdempotencyKey: "card:1:03-2024:2",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.ID)

	req := fake.last()
	assert.Equal(t, "/v1/payment_intents", req.path)
	assert.Equal(t, "116000", req.form.Get("amount"))
	assert.Equal(t, "mxn", req.form.Get("currency"))
	assert.Equal(t, "pm_1", req.form.Get("payment_method"))
	assert.Equal(t, "true", req.form.Get("off_session"))
	assert.Equal(t, "true", req.form.Get("confirm"))
	assert.Equal(t, "2", req.form.Get("metadata[attempt_number]"))
	assert.Equal(t, "card:1:03-2024:2", req.idempotencyKey)
}

func TestCreateCardIntentDeclined(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"error": {"type": "card_error", "code": "card_declined",
			"decline_code": "insufficient_funds", "message": "Your card has insufficient funds."}}`)
	})

	_, err := adapter.CreateCardIntent(context.Background(), paymentdomain.CardIntentRequest{
		CustomerRef: "cus_1",
		CardID:      "pm_1",
		Amount:      decimal.NewFromInt(10),
		Currency:    "MXN",
	})
	var perr *paymentdomain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "card_declined", perr.Code)
	assert.Equal(t, "insufficient_funds", perr.DeclineCode)
	assert.Equal(t, http.StatusPaymentRequired, perr.HTTPStatus)
}

func TestCreateCardIntentRequiresAction(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id": "pi_2", "object": "payment_intent", "status": "requires_action"}`)
	})

	res, err := adapter.CreateCardIntent(context.Background(), paymentdomain.CardIntentRequest{
		CustomerRef: "cus_1",
		CardID:      "pm_1",
		Amount:      decimal.NewFromInt(10),
		Currency:    "MXN",
	})
	var perr *paymentdomain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "requires_action", perr.Code)
	assert.Equal(t, "pi_2", res.ID)
}

func TestCreateCardIntentRejectsZeroAmount(t *testing.T) {
	adapter, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := adapter.CreateCardIntent(context.Background(), paymentdomain.CardIntentRequest{Amount: decimal.Zero})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
	assert.Empty(t, fake.requests)
}

func TestCreateTransferIntentExtractsClabe(t *testing.T) {
	adapter, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"id": "pi_spei", "object": "payment_intent", "status": "requires_action",
			"next_action": {
				"type": "display_bank_transfer_instructions",
				"display_bank_transfer_instructions": {
					"type": "mx_bank_transfer",
					"reference": "REF123",
					"hosted_instructions_url": "https://payments.stripe.com/instructions/x",
					"financial_addresses": [
						{"type": "spei", "spei": {"bank_code": "002", "bank_name": "BANAMEX", "clabe": "002180000000000001"}}
					]
				}
			}
		}`)
	})

	res, err := adapter.CreateTransferIntent(context.Background(), paymentdomain.TransferIntentRequest{
		CustomerRef:    "cus_1",
		Amount:         decimal.RequireFromString("580.00"),
		Currency:       "MXN",
		IdempotencyKey: "spei:1:03-2024",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_spei", res.ID)
	assert.Equal(t, "002180000000000001", res.Bank.Clabe)
	assert.Equal(t, "BANAMEX", res.Bank.BankName)
	assert.Equal(t, "REF123", res.Bank.Reference)

	req := fake.last()
	assert.Equal(t, "58000", req.form.Get("amount"))
	assert.Equal(t, "customer_balance", req.form.Get("payment_method_types[0]"))
	assert.Equal(t, "bank_transfer", req.form.Get("payment_method_options[customer_balance][funding_type]"))
	assert.Equal(t, "mx_bank_transfer", req.form.Get("payment_method_options[customer_balance][bank_transfer][type]"))
	assert.Equal(t, "spei:1:03-2024", req.idempotencyKey)
}

func TestCreateTransferIntentWithoutInstructions(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id": "pi_spei", "object": "payment_intent", "status": "processing"}`)
	})

	res, err := adapter.CreateTransferIntent(context.Background(), paymentdomain.TransferIntentRequest{
		CustomerRef: "cus_1",
		Amount:      decimal.NewFromInt(1),
		Currency:    "MXN",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrNoBankInstructions)
	assert.Equal(t, "pi_spei", res.ID)
}
