package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	// TotalDue loads the account's active charges and computes what is owed
	// for one period.
	TotalDue(ctx context.Context, req DueRequest) (Due, error)
	ActivateCharge(ctx context.Context, req ActivateChargeRequest) (*Charge, error)
	AddDiscount(ctx context.Context, req AddDiscountRequest) (*ChargeDiscount, error)
}

type DueRequest struct {
	AccountID snowflake.ID
	Plan      PlanKind
	Cedis     int64
	Usage     Usage
	At        time.Time
}

type ActivateChargeRequest struct {
	AccountID   snowflake.ID    `json:"-"`
	Kind        ChargeKind      `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	AmountKind  AmountKind      `json:"amount_kind"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

type AddDiscountRequest struct {
	ChargeID   snowflake.ID    `json:"-"`
	Kind       string          `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	AmountKind AmountKind      `json:"amount_kind"`
	ValidUpto  time.Time       `json:"valid_upto"`
}
