package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	"github.com/smallbiznis/alima/internal/billingperiod"
	runnerservice "github.com/smallbiznis/alima/internal/billingrunner/service"
	"github.com/smallbiznis/alima/internal/scheduler"
)

type runRoutinesRequest struct {
	PayProvider   string `json:"pay_provider"`
	BillingPeriod string `json:"billing_period"`
	// Date is YYYY-MM-DD in the billing timezone. Empty means today.
	Date string `json:"date"`
}

// RunRoutines runs one routine when pay_provider and billing_period are
// given, or the whole daily pass when both are empty.
func (s *Server) RunRoutines(c *gin.Context) {
	var req runRoutinesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	var date time.Time
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := time.Parse(time.DateOnly, strings.TrimSpace(req.Date))
		if err != nil {
			AbortWithError(c, newValidationError("date", "invalid_date", "date must be YYYY-MM-DD"))
			return
		}
		date = parsed
	}

	ctx := c.Request.Context()
	if req.PayProvider == "" && req.BillingPeriod == "" {
		summary, err := s.routines.RunOnce(ctx, date)
		if err != nil && summary.RunID == "" {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, routinesResponse(summary, err))
		return
	}

	provider, err := accountdomain.ParsePayProvider(req.PayProvider)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	period, err := billingperiod.ParsePeriod(req.BillingPeriod)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	summary, err := s.routines.RunRoutine(ctx, provider, period, date)
	if err != nil && summary.RunID == "" {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, routinesResponse(summary, err))
}

func routinesResponse(summary scheduler.Summary, err error) gin.H {
	body := gin.H{"data": summary, "failed": summary.Failed()}
	if err != nil {
		body["errors"] = err.Error()
	}
	return body
}

func (s *Server) GetAccount(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}
	acc, err := s.accounts.GetBillingAccount(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": acc})
}

func (s *Server) InvoiceAccount(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}
	var req runnerservice.ManualInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AccountID = id

	out, err := s.invoicer.InvoiceAccount(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	body := gin.H{
		"invoice_id":     out.InvoiceID.String(),
		"tax_invoice_id": out.TaxInvoiceID,
		"folio":          out.Folio,
		"recipients":     out.Recipients,
	}
	if out.NotifyErr != nil {
		body["notify_error"] = out.NotifyErr.Error()
	}
	c.JSON(http.StatusCreated, gin.H{"data": body})
}

func (s *Server) ReactivateAccount(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}
	if err := s.accounts.Reactivate(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) CreatePaymentMethod(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}
	var req accountdomain.CreatePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AccountID = id
	if strings.TrimSpace(req.CreatedBy) == "" {
		req.CreatedBy = "admin"
	}

	pm, err := s.accounts.CreatePaymentMethod(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": pm})
}

func accountIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError("id", "invalid_account_id", "invalid account id"))
		return 0, false
	}
	return id, true
}
