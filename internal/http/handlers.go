package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kisansaathi/farmdata-service/internal/apperr"
	"github.com/kisansaathi/farmdata-service/internal/health"
	"github.com/kisansaathi/farmdata-service/internal/models"
	"github.com/kisansaathi/farmdata-service/internal/observability"
	"github.com/kisansaathi/farmdata-service/internal/service"
)

// ServiceName and Version are reported on /health.
const ServiceName = "farmdata-service"

var Version = "dev"

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	prices    *service.PriceService
	locations *service.LocationService
	weather   *service.WeatherService
	health    *health.Evaluator
	logger    *zap.Logger
}

// NewHandler returns a new Handler.
func NewHandler(
	prices *service.PriceService,
	locations *service.LocationService,
	weather *service.WeatherService,
	evaluator *health.Evaluator,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		prices:    prices,
		locations: locations,
		weather:   weather,
		health:    evaluator,
		logger:    logger,
	}
}

type priceResponse struct {
	Success   bool                       `json:"success"`
	Data      []models.MarketPriceRecord `json:"data"`
	Source    models.PriceSource         `json:"source"`
	Timestamp string                     `json:"timestamp"`
	Message   string                     `json:"message,omitempty"`
}

func newPriceResponse(res service.PriceResult) priceResponse {
	return priceResponse{
		Success:   true,
		Data:      res.Records,
		Source:    res.Source,
		Timestamp: res.Timestamp.UTC().Format(time.RFC3339),
		Message:   res.Message,
	}
}

// GetMarketPrices handles GET /scrape/market-prices.
func (h *Handler) GetMarketPrices(w http.ResponseWriter, r *http.Request) {
	q, err := parsePriceQuery(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPriceResponse(h.prices.GetPrices(r.Context(), q)))
}

// RefreshMarketPrices handles POST /scrape/market-prices: the price cache is
// cleared before fetching.
func (h *Handler) RefreshMarketPrices(w http.ResponseWriter, r *http.Request) {
	q, err := parsePriceQuery(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPriceResponse(h.prices.RefreshPrices(r.Context(), q)))
}

// ResolveLocation handles POST /location/resolve.
func (h *Handler) ResolveLocation(w http.ResponseWriter, r *http.Request) {
	sig, err := parseResolveRequest(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.locations.Resolve(r.Context(), sig))
}

// SaveManualLocation handles PUT /location/manual.
func (h *Handler) SaveManualLocation(w http.ResponseWriter, r *http.Request) {
	var in manualInput
	if err := decodeJSON(r, &in); err != nil {
		writeRequestError(w, r, err)
		return
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" || len(userID) > maxUserIDLen {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "userId is required")
		return
	}
	rec, err := in.record()
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	saved, err := h.locations.SaveManual(r.Context(), userID, rec)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"userId":   saved.UserID,
		"location": saved.Record(),
		"savedAt":  saved.SavedAt.UTC().Format(time.RFC3339),
	})
}

// DeleteManualLocation handles DELETE /location/manual/{userId}.
func (h *Handler) DeleteManualLocation(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userId"])
	existed, err := h.locations.DeleteManual(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !existed {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no saved location for user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "userId": userID})
}

// GetWeather handles GET /weather.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	lat, lon, state, err := parseCoordinates(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	data, err := h.weather.GetWeather(r.Context(), lat, lon, state)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// GetSoil handles GET /soil.
func (h *Handler) GetSoil(w http.ResponseWriter, r *http.Request) {
	lat, lon, state, err := parseCoordinates(r)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.weather.GetSoil(r.Context(), lat, lon, state))
}

type healthResponse struct {
	health.Report
	Service string `json:"service"`
	Version string `json:"version"`
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := h.health.Evaluate(r.Context())
	writeJSON(w, report.Status.HTTPStatus(), healthResponse{Report: report, Service: ServiceName, Version: Version})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

func writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *fieldError
	if errors.As(err, &fe) {
		writeError(w, r, http.StatusBadRequest, fe.code, fe.message)
		return
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}

// writeServiceError maps service errors onto the API codes. Anything not
// recognized is a 500 and is logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	switch {
	case errors.Is(err, apperr.ErrValidationRejected):
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
	case errors.Is(err, apperr.ErrCredentialMissing):
		logger.Error("credential missing", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "CREDENTIAL_MISSING", "Weather service is not configured")
	case errors.Is(err, service.ErrStoreUnavailable):
		writeError(w, r, http.StatusInternalServerError, "STORE_UNAVAILABLE", "Manual locations are not available")
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
	}
}
