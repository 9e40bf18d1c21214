package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paydesk/internal/authorization"
	"github.com/smallbiznis/paydesk/internal/checkout"
	checkoutdomain "github.com/smallbiznis/paydesk/internal/checkout/domain"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/console"
	consoledomain "github.com/smallbiznis/paydesk/internal/console/domain"
	"github.com/smallbiznis/paydesk/internal/ingest"
	ingestdomain "github.com/smallbiznis/paydesk/internal/ingest/domain"
	"github.com/smallbiznis/paydesk/internal/observability"
	obsmiddleware "github.com/smallbiznis/paydesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paydesk/internal/observability/tracing"
	"github.com/smallbiznis/paydesk/internal/processor"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	"github.com/smallbiznis/paydesk/internal/reconcile"
	reconciledomain "github.com/smallbiznis/paydesk/internal/reconcile/domain"
	"github.com/smallbiznis/paydesk/internal/refund"
	refunddomain "github.com/smallbiznis/paydesk/internal/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	processor.Module,
	ingest.Module,
	reconcile.Module,
	refund.Module,
	console.Module,
	checkout.Module,
	authorization.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	gateway     processordomain.Gateway
	ingestSvc   ingestdomain.Service
	engineSvc   reconciledomain.Engine
	refundSvc   refunddomain.Service
	consoleSvc  consoledomain.Service
	checkoutSvc checkoutdomain.Service
	authzSvc    authorization.Service
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Gateway     processordomain.Gateway
	IngestSvc   ingestdomain.Service
	Engine      reconciledomain.Engine
	RefundSvc   refunddomain.Service
	ConsoleSvc  consoledomain.Service
	CheckoutSvc checkoutdomain.Service
	AuthzSvc    authorization.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		gateway:     p.Gateway,
		ingestSvc:   p.IngestSvc,
		engineSvc:   p.Engine,
		refundSvc:   p.RefundSvc,
		consoleSvc:  p.ConsoleSvc,
		checkoutSvc: p.CheckoutSvc,
		authzSvc:    p.AuthzSvc,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerOrderRoutes()
	svc.registerWebhookRoutes()
	svc.registerAdminRoutes()
	svc.registerLocalRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerOrderRoutes() {
	orders := s.engine.Group("/api/orders")

	orders.POST("", s.CreateOrder)
	orders.GET("/:id", s.GetOrder)
	orders.PATCH("/:id", s.PatchOrder)
	orders.POST("/:id/capture", s.CaptureOrder)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/api/webhooks/paypal", s.HandlePayPalWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin")
	admin.Use(s.AdminRequired())

	view := func(object string) gin.HandlerFunc {
		return s.authorizeAdminAction(object, authorization.ActionView)
	}

	admin.GET("/transactions", view(authorization.ObjectTransactions), s.ListTransactions)

	admin.GET("/captures/:id", view(authorization.ObjectCaptures), s.GetCapture)
	admin.GET("/captures/:id/refunds", view(authorization.ObjectCaptures), s.ListCaptureRefunds)
	admin.GET("/captures/:id/ledger", view(authorization.ObjectRefunds), s.ListRefundLedger)

	admin.GET("/refunds/:id", view(authorization.ObjectRefunds), s.GetRefund)
	admin.POST("/refunds", s.authorizeAdminAction(authorization.ObjectRefunds, authorization.ActionIssue), s.IssueRefund)

	admin.GET("/reconcile/:id", view(authorization.ObjectCaptures), s.ReconcileCapture)

	admin.GET("/console", view(authorization.ObjectConsole), s.ListConsoleRows)
	admin.GET("/console/pending", view(authorization.ObjectConsole), s.ListPendingReconciliation)

	webhooks := admin.Group("/webhooks", view(authorization.ObjectWebhooks))
	{
		webhooks.GET("/captures", s.ListCaptureSnapshots)
		webhooks.GET("/captures/:id", s.GetCaptureSnapshot)
		webhooks.GET("/refunds", s.ListRefundSnapshots)
		webhooks.GET("/refunds/:id", s.GetRefundSnapshot)
	}
}

func (s *Server) registerLocalRoutes() {
	local := s.engine.Group("/api/local", s.AdminRequired())
	local.GET("/transactions", s.authorizeAdminAction(authorization.ObjectTransactions, authorization.ActionView), s.ListLocalTransactions)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
