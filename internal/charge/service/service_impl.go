package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/smallbiznis/alima/internal/charge/domain"
	"github.com/smallbiznis/alima/internal/clock"
	"github.com/smallbiznis/alima/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_charge_service_config")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          chargedomain.Repository
	Clock         clock.Clock
	BillingConfig *config.BillingConfigHolder `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    chargedomain.Repository
	clock   clock.Clock
	billing *config.BillingConfigHolder
}

func New(p Params) (chargedomain.Service, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Repo == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("charge.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		clock:   p.Clock,
		billing: p.BillingConfig,
	}, nil
}

func (s *Service) TotalDue(ctx context.Context, req chargedomain.DueRequest) (chargedomain.Due, error) {
	if _, err := chargedomain.StrategyFor(req.Plan); err != nil {
		return chargedomain.Due{}, err
	}

	charges, err := s.repo.ListActive(ctx, s.db, req.AccountID)
	if err != nil {
		return chargedomain.Due{}, err
	}
	ids := make([]snowflake.ID, 0, len(charges))
	for _, c := range charges {
		ids = append(ids, c.ID)
	}

	at := req.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	discounts, err := s.repo.ListValidDiscounts(ctx, s.db, ids, at)
	if err != nil {
		return chargedomain.Due{}, err
	}

	cfg := s.billing.Get()
	return TotalDue(req.Plan, DueInput{
		Charges:        charges,
		Discounts:      discounts,
		Cedis:          req.Cedis,
		Usage:          req.Usage,
		VAT:            cfg.VAT(),
		FolioAllotment: cfg.FolioAllotment,
		Currency:       cfg.Currency,
	})
}

// ActivateCharge supersedes any active charge of the same kind.
func (s *Service) ActivateCharge(ctx context.Context, req chargedomain.ActivateChargeRequest) (*chargedomain.Charge, error) {
	if !req.Kind.Valid() {
		return nil, chargedomain.ErrInvalidChargeKind
	}
	if !req.AmountKind.Valid() {
		return nil, chargedomain.ErrInvalidAmountKind
	}
	if req.Amount.IsNegative() {
		return nil, chargedomain.ErrInvalidAmount
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.billing.Get().Currency
	}
	now := s.clock.Now().UTC()
	charge := &chargedomain.Charge{
		ID:            s.genID.Generate(),
		PaidAccountID: req.AccountID,
		Kind:          req.Kind,
		Amount:        req.Amount,
		AmountKind:    req.AmountKind,
		Currency:      currency,
		Active:        true,
		Description:   strings.TrimSpace(req.Description),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeactivateKind(ctx, tx, req.AccountID, req.Kind, now); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, charge)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("charge.activated",
		zap.String("account_id", req.AccountID.String()),
		zap.String("kind", string(req.Kind)),
		zap.String("amount", req.Amount.String()),
	)
	return charge, nil
}

func (s *Service) AddDiscount(ctx context.Context, req chargedomain.AddDiscountRequest) (*chargedomain.ChargeDiscount, error) {
	if !req.AmountKind.Valid() {
		return nil, chargedomain.ErrInvalidAmountKind
	}
	if !req.Amount.IsPositive() {
		return nil, chargedomain.ErrInvalidAmount
	}
	charge, err := s.repo.FindByID(ctx, s.db, req.ChargeID)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, chargedomain.ErrChargeNotFound
	}

	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		kind = "promotion"
	}
	discount := &chargedomain.ChargeDiscount{
		ID:         s.genID.Generate(),
		ChargeID:   charge.ID,
		Kind:       kind,
		Amount:     req.Amount,
		AmountKind: req.AmountKind,
		ValidUpto:  req.ValidUpto.UTC(),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.repo.InsertDiscount(ctx, s.db, discount); err != nil {
		return nil, err
	}
	return discount, nil
}
