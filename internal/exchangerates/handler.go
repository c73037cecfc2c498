package exchangerates

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/storefront/internal/currency"
	"github.com/richxcame/storefront/pkg/common"
	"github.com/richxcame/storefront/pkg/validation"
	"github.com/shopspring/decimal"
)

const (
	msgUnauthorized  = "Unauthorized"
	msgInvalidRates  = "Invalid rates format"
	msgFallbackRates = "Failed to fetch live rates, using fallback rates"
	msgStaleRates    = "Failed to refresh rates, serving cached rates"
)

// Handler serves the rate table over HTTP
type Handler struct {
	cache *RateCache
}

// NewHandler creates a handler around cache
func NewHandler(cache *RateCache) *Handler {
	codes := make([]string, 0, len(currency.Codes()))
	for _, code := range currency.Codes() {
		codes = append(codes, string(code))
	}
	validation.RegisterCurrencyCodes(codes...)

	return &Handler{cache: cache}
}

// RegisterRoutes mounts the endpoints under rg, normally the /api group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rates := rg.Group("/exchange-rates")
	{
		rates.GET("", h.GetRates)
		rates.POST("", h.SetRates)
		rates.GET("/convert", h.Convert)
	}
}

// GetRates always answers 200 with some table; degradation is reported in
// the fallback and error fields
func (h *Handler) GetRates(c *gin.Context) {
	table, status := h.cache.GetRates(c.Request.Context())
	c.JSON(http.StatusOK, currency.NewRatesResponse(table, status.Cached, statusMessage(status)))
}

func statusMessage(status Status) string {
	switch {
	case status.Err == nil:
		return ""
	case status.Fallback:
		return msgFallbackRates
	default:
		return msgStaleRates
	}
}

type manualRatesRequest struct {
	Rates    json.RawMessage `json:"rates"`
	AdminKey string          `json:"adminKey"`
}

// SetRates applies an administrator override. The key is checked before the
// payload so a bad key never learns whether its rates were well formed.
func (h *Handler) SetRates(c *gin.Context) {
	var req manualRatesRequest
	_ = c.ShouldBindJSON(&req)

	var rates map[string]float64
	if len(req.Rates) > 0 {
		if err := json.Unmarshal(req.Rates, &rates); err != nil {
			rates = nil
		}
	}

	table, err := h.cache.SetManualRates(c.Request.Context(), rates, req.AdminKey)
	switch {
	case errors.Is(err, ErrUnauthorized):
		common.ErrorResponse(c, http.StatusUnauthorized, msgUnauthorized)
		return
	case errors.Is(err, ErrValidation):
		common.ErrorResponse(c, http.StatusBadRequest, msgInvalidRates)
		return
	case err != nil:
		common.ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	}

	c.JSON(http.StatusOK, currency.NewRatesResponse(table, false, ""))
}

type convertQuery struct {
	Amount string `form:"amount" validate:"required,numeric"`
	To     string `form:"to" validate:"required,currency_code"`
}

// ConvertResponse is a base amount rendered in another currency
type ConvertResponse struct {
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	Converted   string  `json:"converted"`
	Formatted   string  `json:"formatted"`
	Rate        float64 `json:"rate"`
	Fallback    bool    `json:"fallback"`
	LastUpdated string  `json:"lastUpdated"`
}

// Convert renders ?amount= (in the base currency) in ?to=
func (h *Handler) Convert(c *gin.Context) {
	var q convertQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.ValidateStruct(q); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := decimal.NewFromString(q.Amount)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "amount must be numeric")
		return
	}
	code, _ := currency.ParseCode(q.To)
	target, _ := currency.Lookup(code)

	table, _ := h.cache.GetRates(c.Request.Context())
	target.Rate = table.Rate(code)
	converted := currency.Convert(amount, target.Rate)

	common.SuccessResponse(c, ConvertResponse{
		Amount:      amount.String(),
		Currency:    string(code),
		Converted:   currency.Round(converted, target.DecimalPlaces).StringFixed(int32(target.DecimalPlaces)),
		Formatted:   currency.Format(converted, target),
		Rate:        target.Rate.InexactFloat64(),
		Fallback:    table.IsFallback,
		LastUpdated: table.FetchedAt.UTC().Format(time.RFC3339),
	})
}
