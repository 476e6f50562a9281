package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/smallbiznis/alima/internal/account/domain"
	"github.com/smallbiznis/alima/internal/billingperiod"
	runnerservice "github.com/smallbiznis/alima/internal/billingrunner/service"
	"github.com/smallbiznis/alima/internal/config"
	obslogger "github.com/smallbiznis/alima/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/alima/internal/observability/metrics"
	obstracing "github.com/smallbiznis/alima/internal/observability/tracing"
	paymentservice "github.com/smallbiznis/alima/internal/payment/service"
	"github.com/smallbiznis/alima/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(
		registerGin,
		provideRoutines,
		provideInvoicer,
		provideWebhooks,
		NewServer,
	),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

// Routines triggers billing passes on demand.
type Routines interface {
	RunOnce(ctx context.Context, date time.Time) (scheduler.Summary, error)
	RunRoutine(ctx context.Context, provider accountdomain.PayProvider, period billingperiod.Period, date time.Time) (scheduler.Summary, error)
}

type Invoicer interface {
	InvoiceAccount(ctx context.Context, req runnerservice.ManualInvoiceRequest) (runnerservice.DispatchResult, error)
}

type Webhooks interface {
	IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error
}

func provideRoutines(s *scheduler.Scheduler) Routines       { return s }
func provideInvoicer(r *runnerservice.Runner) Invoicer      { return r }
func provideWebhooks(s *paymentservice.Settlement) Webhooks { return s }

func NewEngine(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log.Named("http")))
	r.Use(obstracing.GinMiddleware())
	r.Use(MetricsMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(log, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.server.failed", zap.Error(err))
				}
			}()
			log.Info("http.server.started", zap.String("addr", cfg.HTTP.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	log        *zap.Logger
	adminToken string
	accounts   accountdomain.Service
	routines   Routines
	invoicer   Invoicer
	webhooks   Webhooks
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Log      *zap.Logger
	Accounts accountdomain.Service
	Routines Routines
	Invoicer Invoicer
	Webhooks Webhooks `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		log:        p.Log.Named("http"),
		adminToken: p.Cfg.HTTP.AdminToken,
		accounts:   p.Accounts,
		routines:   p.Routines,
		invoicer:   p.Invoicer,
		webhooks:   p.Webhooks,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	if s.webhooks != nil {
		s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
	}

	admin := s.engine.Group("/admin/billing", s.AdminAuth())
	admin.POST("/routines", s.RunRoutines)
	admin.GET("/accounts/:id", s.GetAccount)
	admin.POST("/accounts/:id/invoices", s.InvoiceAccount)
	admin.POST("/accounts/:id/reactivate", s.ReactivateAccount)
	admin.POST("/accounts/:id/payment-methods", s.CreatePaymentMethod)
}
