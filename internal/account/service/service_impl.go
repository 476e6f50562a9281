package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	"github.com/smallbiznis/alima/internal/billingperiod"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	"github.com/smallbiznis/alima/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_account_service_config")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  accountdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  accountdomain.Repository
	clock clock.Clock
}

func New(p Params) (accountdomain.Service, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Repo == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}, nil
}

func (s *Service) ListBillingAccounts(ctx context.Context, period billingperiod.Period) ([]accountdomain.BillingAccount, error) {
	if !period.Valid() {
		return nil, billingperiod.ErrInvalidPeriod
	}
	accounts, err := s.repo.ListBillable(ctx, s.db, chargedomain.PlansFor(period == billingperiod.Annual))
	if err != nil {
		return nil, err
	}
	return s.join(ctx, accounts)
}

func (s *Service) GetBillingAccount(ctx context.Context, id snowflake.ID) (*accountdomain.BillingAccount, error) {
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}
	joined, err := s.join(ctx, []accountdomain.PaidAccount{*account})
	if err != nil {
		return nil, err
	}
	if len(joined) == 0 {
		return nil, accountdomain.ErrAccountNotFound
	}
	return &joined[0], nil
}

// join attaches customers and active payment methods. Accounts whose
// customer row is missing are dropped and logged.
func (s *Service) join(ctx context.Context, accounts []accountdomain.PaidAccount) ([]accountdomain.BillingAccount, error) {
	if len(accounts) == 0 {
		return nil, nil
	}
	customerIDs := make([]snowflake.ID, 0, len(accounts))
	accountIDs := make([]snowflake.ID, 0, len(accounts))
	for _, a := range accounts {
		customerIDs = append(customerIDs, a.CustomerID)
		accountIDs = append(accountIDs, a.ID)
	}

	customers, err := s.repo.FindCustomers(ctx, s.db, customerIDs)
	if err != nil {
		return nil, err
	}
	methods, err := s.repo.FindActivePaymentMethods(ctx, s.db, accountIDs)
	if err != nil {
		return nil, err
	}

	out := make([]accountdomain.BillingAccount, 0, len(accounts))
	for _, a := range accounts {
		customer, ok := customers[a.CustomerID]
		if !ok {
			s.log.Warn("account.customer.missing",
				zap.String("account_id", a.ID.String()),
				zap.String("customer_id", a.CustomerID.String()),
			)
			continue
		}
		item := accountdomain.BillingAccount{Account: a, Customer: customer}
		if m, ok := methods[a.ID]; ok {
			method := m
			item.PaymentMethod = &method
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Service) Disable(ctx context.Context, id snowflake.ID) error {
	return s.setActive(ctx, id, false)
}

func (s *Service) Reactivate(ctx context.Context, id snowflake.ID) error {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id snowflake.ID, active bool) error {
	ok, err := s.repo.SetActive(ctx, s.db, id, active, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return accountdomain.ErrAccountNotFound
	}
	s.log.Info("account.active.changed",
		zap.String("account_id", id.String()),
		zap.Bool("active", active),
	)
	return nil
}

func (s *Service) SetInvoicingCustomerRef(ctx context.Context, id snowflake.ID, ref string) error {
	return s.repo.SetInvoicingCustomerRef(ctx, s.db, id, strings.TrimSpace(ref), s.clock.Now().UTC())
}

func (s *Service) SaveBankAccount(ctx context.Context, paymentMethodID snowflake.ID, number, bank string) error {
	return s.repo.SaveBankAccount(ctx, s.db, paymentMethodID, strings.TrimSpace(number), strings.TrimSpace(bank), s.clock.Now().UTC())
}

// CreatePaymentMethod inserts the new method and deactivates every other
// method of the account in one transaction.
func (s *Service) CreatePaymentMethod(ctx context.Context, req accountdomain.CreatePaymentMethodRequest) (*accountdomain.PaymentMethod, error) {
	if req.AccountID == 0 {
		return nil, accountdomain.ErrInvalidAccountID
	}
	if !req.PaymentProvider.Valid() {
		return nil, accountdomain.ErrInvalidPayProvider
	}

	now := s.clock.Now().UTC()
	method := &accountdomain.PaymentMethod{
		ID:              s.genID.Generate(),
		PaidAccountID:   req.AccountID,
		PaymentType:     accountdomain.TypeOf(req.PaymentProvider),
		PaymentProvider: req.PaymentProvider,
		ProviderRef:     strings.TrimSpace(req.ProviderRef),
		Active:          true,
		CreatedBy:       strings.TrimSpace(req.CreatedBy),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if number := strings.TrimSpace(req.BankAccountNumber); number != "" {
		method.BankAccountNumber = &number
	}
	if bank := strings.TrimSpace(req.BankName); bank != "" {
		method.BankName = &bank
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindByID(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return accountdomain.ErrAccountNotFound
		}
		if err := s.repo.InsertPaymentMethod(ctx, tx, method); err != nil {
			return err
		}
		return s.repo.DeactivateOtherPaymentMethods(ctx, tx, req.AccountID, method.ID, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("account.payment_method.created",
		zap.String("account_id", req.AccountID.String()),
		zap.String("provider", string(req.PaymentProvider)),
	)
	return method, nil
}

// Usage returns zero usage when the marketplace has not reported the period.
func (s *Service) Usage(ctx context.Context, id snowflake.ID, label string) (chargedomain.Usage, error) {
	u, err := s.repo.FindUsage(ctx, s.db, id, label)
	if err != nil {
		return chargedomain.Usage{}, err
	}
	if u == nil {
		return chargedomain.Usage{GMV: decimal.Zero}, nil
	}
	return chargedomain.Usage{Folios: u.Folios, GMV: u.GMV}, nil
}
