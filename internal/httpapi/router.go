package httpapi

import (
	"context"
	"net/http"

	"ppv-trustcore/pkg/config"
	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/pkg/health"
	"ppv-trustcore/pkg/metrics"
	"ppv-trustcore/pkg/middleware"
	"ppv-trustcore/services/signal"
	"ppv-trustcore/services/stats"
	"ppv-trustcore/services/trust"
	"ppv-trustcore/services/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		func(s *validation.Service) Recorder { return s },
		func(s *stats.Service) Reporter { return s },
		NewRouter,
	),
)

// Recorder is the part of the validation pipeline exposed over HTTP.
type Recorder interface {
	RecordClick(ctx context.Context, in validation.ClickInput) (*validation.ClickResult, error)
	RecordView(ctx context.Context, in validation.ViewInput) (*validation.ViewResult, error)
}

// Reporter serves the on-demand aggregates.
type Reporter interface {
	Summary(ctx context.Context) (*stats.Summary, error)
	Dashboard(ctx context.Context, accountID string) (*stats.Dashboard, error)
}

type Params struct {
	fx.In

	Config   *config.Config
	Recorder Recorder
	Reporter Reporter `optional:"true"`
	Health   health.HealthService
}

type handler struct {
	rec   Recorder
	stats Reporter
}

// NewRouter builds the gin engine serving tracking, view reporting and
// operational endpoints.
func NewRouter(p Params) http.Handler {
	if p.Config != nil && p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	h := &handler{rec: p.Recorder, stats: p.Reporter}

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/healthz/ready", p.Health.Readiness)
	r.GET("/metrics", metrics.Handler())

	r.GET("/r/:token", h.click)
	v1 := r.Group("/v1")
	v1.POST("/views", h.view)
	if h.stats != nil {
		v1.GET("/stats", h.summary)
		v1.GET("/accounts/:id/dashboard", h.dashboard)
	}

	return r
}

type viewRequest struct {
	LinkID    string `json:"link_id" binding:"required"`
	WatchTime *int   `json:"watch_time" binding:"required,gte=0"`
}

type viewResponse struct {
	ID        string  `json:"id"`
	Valid     bool    `json:"valid"`
	Completed bool    `json:"completed"`
	RiskScore float64 `json:"risk_score"`
}

func (h *handler) click(c *gin.Context) {
	res, err := h.rec.RecordClick(c.Request.Context(), validation.ClickInput{
		Token:   c.Param("token"),
		Request: requestFrom(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Redirect(http.StatusFound, res.RedirectURL)
}

func (h *handler) view(c *gin.Context) {
	var req viewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid view payload", err))
		return
	}

	res, err := h.rec.RecordView(c.Request.Context(), validation.ViewInput{
		LinkID:    req.LinkID,
		WatchTime: *req.WatchTime,
		Request:   requestFrom(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	out := viewResponse{Valid: res.Valid, Completed: res.Completed}
	if res.Event != nil {
		out.ID = res.Event.ID
		out.RiskScore = res.Event.RiskScore
	}
	c.JSON(http.StatusCreated, out)
}

func (h *handler) summary(c *gin.Context) {
	out, err := h.stats.Summary(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) dashboard(c *gin.Context) {
	out, err := h.stats.Dashboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func requestFrom(c *gin.Context) trust.Request {
	return trust.Request{
		Visit: signal.Visit{
			Address:        c.ClientIP(),
			Endpoint:       c.Request.URL.Path,
			UserAgent:      c.Request.UserAgent(),
			AcceptLanguage: c.GetHeader("Accept-Language"),
			AcceptEncoding: c.GetHeader("Accept-Encoding"),
		},
		Referrer: c.Request.Referer(),
	}
}
