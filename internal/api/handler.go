package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"indicator_service/internal/core"
	"indicator_service/internal/domain/model"
)

type Handler struct {
	service *core.EnrichmentService
	logger  *zap.Logger
}

func NewHandler(service *core.EnrichmentService, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger.Named("api")}
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type EnrichRequest struct {
	IndicatorName string              `json:"indicatorName"`
	CityLocation  *model.CityLocation `json:"cityLocation,omitempty"`
	ExistingData  model.ExistingData  `json:"existingData,omitempty"`
}

type ImputeRequest struct {
	MissingIndicators []string            `json:"missingIndicators"`
	AvailableData     model.ExistingData  `json:"availableData"`
	CityLocation      *model.CityLocation `json:"cityLocation,omitempty"`
}

type SourcesResponse struct {
	Sources       []model.DataSourceDescriptor `json:"sources"`
	TotalSources  int                          `json:"totalSources"`
	ActiveSources int                          `json:"activeSources"`
	SourceTypes   []model.SourceType           `json:"sourceTypes"`
}

type IndicatorsResponse struct {
	Indicators      []model.IndicatorDefinition `json:"indicators"`
	TotalIndicators int                         `json:"totalIndicators"`
}

type ModelsResponse struct {
	Models      []model.PredictionModelDescriptor `json:"models"`
	TotalModels int                               `json:"totalModels"`
	Strategies  []model.ModelStrategy             `json:"strategies"`
}

// Enrich handles POST /api/indicators/enrich.
func (h *Handler) Enrich(w http.ResponseWriter, r *http.Request) {
	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if strings.TrimSpace(req.IndicatorName) == "" {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "indicatorName is required")
		return
	}

	value, err := h.service.GetEnhancedIndicatorData(r.Context(), req.IndicatorName, req.CityLocation, req.ExistingData)
	if err != nil {
		h.fail(w, r, err, "enrich",
			zap.String("indicator", req.IndicatorName),
			zap.Bool("has_location", req.CityLocation != nil))
		return
	}
	if value == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "no source or model could produce a value for this indicator")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// Quality handles GET /api/indicators/quality?indicators=a,b&lat=&lon=.
func (h *Handler) Quality(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var names []string
	for _, part := range strings.Split(q.Get("indicators"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}

	loc, err := parseLocation(q.Get("lat"), q.Get("lon"))
	if err != nil {
		h.fail(w, r, err, "quality")
		return
	}

	assessment, err := h.service.AssessDataQuality(names, loc)
	if err != nil {
		h.fail(w, r, err, "quality", zap.Bool("has_location", loc != nil))
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// Impute handles POST /api/indicators/impute.
func (h *Handler) Impute(w http.ResponseWriter, r *http.Request) {
	var req ImputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "invalid request body: availableData must be an object of numbers or series")
		return
	}

	result, err := h.service.FillMissingData(r.Context(), req.MissingIndicators, req.AvailableData, req.CityLocation)
	if err != nil {
		h.fail(w, r, err, "impute", zap.Bool("has_location", req.CityLocation != nil))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Sources handles GET /api/indicators/sources.
func (h *Handler) Sources(w http.ResponseWriter, _ *http.Request) {
	sources, stats := h.service.ListSources()
	writeJSON(w, http.StatusOK, SourcesResponse{
		Sources:       sources,
		TotalSources:  stats.TotalSources,
		ActiveSources: stats.ActiveSources,
		SourceTypes:   stats.SourceTypes,
	})
}

// Models handles GET /api/indicators/models.
func (h *Handler) Models(w http.ResponseWriter, _ *http.Request) {
	models, stats := h.service.ListModels()
	writeJSON(w, http.StatusOK, ModelsResponse{
		Models:      models,
		TotalModels: stats.TotalModels,
		Strategies:  stats.Strategies,
	})
}

// Indicators handles GET /api/indicators.
func (h *Handler) Indicators(w http.ResponseWriter, _ *http.Request) {
	defs := h.service.Indicators()
	writeJSON(w, http.StatusOK, IndicatorsResponse{Indicators: defs, TotalIndicators: len(defs)})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps engine errors to responses. Internal details are logged, never
// returned.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, stage string, fields ...zap.Field) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		writeJSONError(w, http.StatusBadRequest, "validation_error", ve.Error())
		return
	}
	fields = append(fields,
		zap.String("stage", stage),
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.String("caller", CallerFrom(r.Context())),
		zap.Error(err))
	h.logger.Error("Request failed", fields...)
	writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// parseLocation accepts both coordinates or neither.
func parseLocation(lat, lon string) (*model.CityLocation, error) {
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, model.NewValidationError("cityLocation", "lat and lon must be given together")
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, model.NewValidationError("lat", "must be a number")
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, model.NewValidationError("lon", "must be a number")
	}
	loc := &model.CityLocation{Latitude: la, Longitude: lo}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return loc, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeJSONError(w http.ResponseWriter, status int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
