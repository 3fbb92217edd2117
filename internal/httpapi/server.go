// Package httpapi exposes the operational surface: the on-demand sync
// endpoint, the balance-check endpoint, the public
// quote/purchase/post-purchase-routing endpoints the Smart Router
// backs, and a liveness check. Routes are grouped under a versioned
// prefix with JSON error envelopes.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexnum/provider-core/internal/platform/logging"
	"github.com/nexnum/provider-core/internal/router"
	"github.com/nexnum/provider-core/internal/store"
	"github.com/nexnum/provider-core/internal/sync"
	"github.com/nexnum/provider-core/internal/vendorerr"
)

// Synchronizer is the subset of *sync.Synchronizer the API calls.
type Synchronizer interface {
	SyncAll(ctx context.Context) ([]sync.Summary, error)
	SyncVendor(ctx context.Context, v store.Vendor) sync.Summary
}

// VendorLookup resolves a single active vendor by name for the
// on-demand, single-vendor sync path.
type VendorLookup interface {
	VendorByName(ctx context.Context, name string) (*store.Vendor, error)
}

// Server wires the Synchronizer and Router onto a gin engine.
type Server struct {
	sync               Synchronizer
	vendors            VendorLookup
	router             *router.Router
	log                *logging.Logger
	internalAuthSecret string
	engine             *gin.Engine
}

func New(synchronizer Synchronizer, vendors VendorLookup, r *router.Router, log *logging.Logger, internalAuthSecret string) *Server {
	s := &Server{sync: synchronizer, vendors: vendors, router: r, log: log, internalAuthSecret: internalAuthSecret}
	s.engine = s.buildEngine()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(ginLogger(s.log))
	e.Use(corsMiddleware)

	e.GET("/health", s.healthCheck)

	v1 := e.Group("/api/v1")
	{
		admin := v1.Group("/")
		admin.Use(internalAuth(s.internalAuthSecret))
		admin.POST("/sync", s.triggerSync)
		admin.GET("/providers/balance", s.lowBalanceVendors)
		admin.GET("/providers/balance/total", s.totalBalance)

		v1.GET("/quotes", s.getQuotes)
		v1.POST("/purchases", s.purchase)
		v1.GET("/activations/:id", s.activationStatus)
		v1.DELETE("/activations/:id", s.cancelActivation)
		v1.POST("/activations/:id/resend", s.resendActivation)
		v1.POST("/activations/:id/complete", s.completeActivation)
	}

	return e
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type syncRequest struct {
	Vendor string `json:"vendor"`
}

// triggerSync implements the on-demand sync endpoint:
// request body {vendor?: slug}, response is one or more {vendor,
// countries, services, prices, durationMs, error?} summaries.
func (s *Server) triggerSync(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}

	if req.Vendor == "" {
		summaries, err := s.sync.SyncAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summaries)
		return
	}

	v, err := s.vendors.VendorByName(c.Request.Context(), req.Vendor)
	if err != nil || v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vendor not found"})
		return
	}
	summary := s.sync.SyncVendor(c.Request.Context(), *v)
	c.JSON(http.StatusOK, summary)
}

func (s *Server) lowBalanceVendors(c *gin.Context) {
	vendors, err := s.router.LowBalanceVendors(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load vendors", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, vendors)
}

func (s *Server) totalBalance(c *gin.Context) {
	total, err := s.router.TotalBalance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate balance", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"totalBalance": total})
}

func (s *Server) getQuotes(c *gin.Context) {
	country := c.Query("country")
	service := c.Query("service")
	if country == "" || service == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "country and service query parameters are required"})
		return
	}

	providers, err := s.router.GetRankedProviders(c.Request.Context(), country, service)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rank providers", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, providers)
}

type purchaseRequest struct {
	CountryCode  string            `json:"countryCode" binding:"required"`
	ServiceCode  string            `json:"serviceCode" binding:"required"`
	PinnedVendor string            `json:"vendor"`
	Opts         map[string]string `json:"opts"`
}

func (s *Server) purchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	purchase, err := s.router.Buy(c.Request.Context(), router.BuyOptions{
		CountryCode:  req.CountryCode,
		ServiceCode:  req.ServiceCode,
		PinnedVendor: req.PinnedVendor,
		Opts:         req.Opts,
	})
	if err != nil {
		writePurchaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

// writePurchaseError distinguishes NO_STOCK-everywhere from a generic
// all-providers-failed error.
func writePurchaseError(c *gin.Context, err error) {
	var failover *router.FailoverError
	if errors.As(err, &failover) {
		if failover.AllNoStock() {
			c.JSON(http.StatusConflict, gin.H{"error": "NO_STOCK", "message": "no vendor currently has stock for this country/service", "attempts": failover.Attempts})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "ALL_PROVIDERS_FAILED", "message": "every eligible vendor failed to complete the purchase", "attempts": failover.Attempts})
		return
	}

	kind, _ := vendorerr.Of(err)
	c.JSON(http.StatusBadGateway, gin.H{"error": string(kind), "message": err.Error()})
}

func (s *Server) activationStatus(c *gin.Context) {
	status, err := s.router.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writePurchaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) cancelActivation(c *gin.Context) {
	if err := s.router.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		writePurchaseError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) resendActivation(c *gin.Context) {
	if err := s.router.Resend(c.Request.Context(), c.Param("id")); err != nil {
		writePurchaseError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) completeActivation(c *gin.Context) {
	if err := s.router.Complete(c.Request.Context(), c.Param("id")); err != nil {
		writePurchaseError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func ginLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			log.WithError(c.Errors.Last()).Warn("request completed with errors")
		}
	}
}
