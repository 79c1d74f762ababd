package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"dealfinder/internal/models"
	"dealfinder/internal/scraper"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AlertRepository is the storage behind /alerts.
type AlertRepository interface {
	Load(ctx context.Context) ([]models.Alert, error)
	Append(ctx context.Context, alert models.Alert) error
}

// Previewer fetches a product page for /preview.
type Previewer interface {
	Preview(ctx context.Context, rawURL string) (scraper.Preview, error)
}

// Handlers holds the route handlers.
type Handlers struct {
	alerts    AlertRepository
	registry  *scraper.Registry
	previewer Previewer
}

// NewHandlers creates the route handlers.
func NewHandlers(alerts AlertRepository, registry *scraper.Registry, previewer Previewer) *Handlers {
	return &Handlers{alerts: alerts, registry: registry, previewer: previewer}
}

func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type storeInfo struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	BaseURL string `json:"base_url"`
}

func (h *Handlers) ListStores(c *gin.Context) {
	stores := make([]storeInfo, 0, len(h.registry.Keys()))
	for _, key := range h.registry.Keys() {
		d, _ := h.registry.Get(key)
		stores = append(stores, storeInfo{Key: key, Label: d.Label, BaseURL: d.BaseURL})
	}
	c.JSON(http.StatusOK, gin.H{"data": stores})
}

func (h *Handlers) ExtractSKU(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url parameter is required"})
		return
	}
	sku, err := scraper.ExtractSKU(rawURL)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sku": sku})
}

func (h *Handlers) Preview(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url parameter is required"})
		return
	}

	// Only supported storefronts are fetched so the API cannot be used to reach arbitrary hosts.
	if _, ok := h.registry.FindStore(rawURL); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "preview is limited to supported stores"})
		return
	}

	p, err := h.previewer.Preview(c.Request.Context(), rawURL)
	switch {
	case errors.Is(err, scraper.ErrNoPrice):
		c.JSON(http.StatusOK, gin.H{"data": p, "warning": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "preview failed: " + err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"data": p})
	}
}

// CreateAlertRequest is the body of POST /alerts. Either target_price or
// discount_rate sets the threshold; an empty store list means every store.
// email, when given, receives the alert's email notifications.
type CreateAlertRequest struct {
	URL          string          `json:"url" binding:"required"`
	RetailPrice  decimal.Decimal `json:"retail_price"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	Stores       []string        `json:"stores"`
	Email        string          `json:"email" binding:"omitempty,email"`
}

func (h *Handlers) CreateAlert(c *gin.Context) {
	var req CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.DiscountRate.IsNegative() || req.DiscountRate.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "discount_rate must be between 0 and 100"})
		return
	}

	sku, err := scraper.ExtractSKU(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stores, err := h.registry.Normalize(req.Stores)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	alert, err := models.NewAlert(req.URL, sku, req.RetailPrice, req.DiscountRate, req.TargetPrice, stores, 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert.Email = req.Email

	if err := h.alerts.Append(c.Request.Context(), alert); err != nil {
		slog.Error("append alert failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save alert"})
		return
	}
	slog.Info("alert created", "alert_id", alert.ID, "sku", sku, "stores", len(stores))
	c.JSON(http.StatusCreated, gin.H{"data": alert})
}

func (h *Handlers) ListAlerts(c *gin.Context) {
	alerts, err := h.alerts.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load alerts: " + err.Error()})
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts})
}
