package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-forecast/internal/engine"
	"price-forecast/internal/feed"
	"price-forecast/internal/forecast"
	"price-forecast/internal/indicators"
	"price-forecast/internal/journal"
	"price-forecast/internal/retrain"
)

type forecastRequest struct {
	Ticker   string    `json:"ticker" validate:"required,max=16"`
	Features []float64 `json:"features" validate:"omitempty,len=9"`
	Date     string    `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Log      *bool     `json:"log" default:"true"`
}

type predictionRequest struct {
	Ticker         string  `json:"ticker" validate:"required,max=16"`
	Date           string  `json:"date" validate:"required,datetime=2006-01-02"`
	PredictedPrice float64 `json:"predicted_price" validate:"gt=0"`
	Confidence     float64 `json:"confidence" validate:"gte=0,lte=1"`
	ModelVersion   string  `json:"model_version" validate:"max=64"`
}

type validationRequest struct {
	Ticker      string  `json:"ticker" validate:"required,max=16"`
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	ActualPrice float64 `json:"actual_price" validate:"gt=0"`
}

type statsRequest struct {
	Ticker string `param:"ticker" validate:"required,max=16"`
	Window int    `query:"window" default:"30" validate:"gte=1,lte=365"`
}

type tickerRequest struct {
	Ticker string `param:"ticker" validate:"required,max=16"`
}

type errorBody struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Errors  []fieldError `json:"errors,omitempty"`
}

type handler struct {
	svc    Service
	logger zerolog.Logger
}

func (h *handler) register(e *echo.Echo) {
	e.GET("/health", h.health)
	e.POST("/forecast", h.forecast)
	e.POST("/predictions", h.logPrediction)
	e.POST("/predictions/validate", h.validatePrediction)
	e.GET("/stats/:ticker", h.stats)
	e.GET("/intelligence/:ticker", h.intelligence)
	e.GET("/retrain", h.retrainState)
	e.POST("/retrain/:ticker/complete", h.retrainComplete)
	e.GET("/model/info", h.modelInfo)
}

func (h *handler) health(c echo.Context) error {
	body := map[string]any{"status": "ok", "model_loaded": false}
	if info, err := h.svc.ModelInfo(); err == nil {
		body["model_loaded"] = true
		body["model_version"] = info.Version
	}
	return c.JSON(http.StatusOK, body)
}

func (h *handler) forecast(c echo.Context) error {
	req := &forecastRequest{}
	if errs := bindRequest(c, req); errs != nil {
		return badRequest(c, errs)
	}

	fr := engine.ForecastRequest{Ticker: req.Ticker, Log: *req.Log}
	if req.Features != nil {
		fv, err := indicators.FromValues(req.Features)
		if err != nil {
			return h.fail(c, err)
		}
		fr.Features = &fv
	}
	if req.Date != "" {
		fr.Date, _ = time.Parse(time.DateOnly, req.Date)
	}

	res, err := h.svc.Forecast(c.Request().Context(), fr)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *handler) logPrediction(c echo.Context) error {
	req := &predictionRequest{}
	if errs := bindRequest(c, req); errs != nil {
		return badRequest(c, errs)
	}
	date, _ := time.Parse(time.DateOnly, req.Date)

	entry, err := h.svc.LogPrediction(c.Request().Context(), req.Ticker, date, decimal.NewFromFloat(req.PredictedPrice), journal.RecordOptions{
		Confidence:   req.Confidence,
		ModelVersion: req.ModelVersion,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (h *handler) validatePrediction(c echo.Context) error {
	req := &validationRequest{}
	if errs := bindRequest(c, req); errs != nil {
		return badRequest(c, errs)
	}
	date, _ := time.Parse(time.DateOnly, req.Date)

	res, err := h.svc.ValidatePrediction(c.Request().Context(), req.Ticker, date, decimal.NewFromFloat(req.ActualPrice))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *handler) stats(c echo.Context) error {
	req := &statsRequest{}
	if errs := bindRequest(c, req); errs != nil {
		return badRequest(c, errs)
	}
	stats, err := h.svc.Stats(req.Ticker, req.Window)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *handler) intelligence(c echo.Context) error {
	req := &tickerRequest{}
	if errs := bindRequest(c, req); errs != nil {
		return badRequest(c, errs)
	}
	score, err := h.svc.Intelligence(c.Request().Context(), req.Ticker)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, score)
}

func (h *handler) retrainState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.RetrainSnapshot())
}

func (h *handler) retrainComplete(c echo.Context) error {
	req := &tickerRequest{}
	if errs := bindRequest(c, req); errs != nil {
		return badRequest(c, errs)
	}
	res, err := h.svc.RetrainComplete(c.Request().Context(), req.Ticker)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *handler) modelInfo(c echo.Context) error {
	info, err := h.svc.ModelInfo()
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func badRequest(c echo.Context, errs []fieldError) error {
	return c.JSON(http.StatusBadRequest, errorBody{Code: "ERR_VALIDATION", Message: "invalid request", Errors: errs})
}

func (h *handler) fail(c echo.Context, err error) error {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("route", c.Path()).Msg("request failed")
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	return c.JSON(status, errorBody{Code: code, Message: msg})
}

// classify maps engine errors to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, journal.ErrInvalidInput),
		errors.Is(err, forecast.ErrInvalidInput),
		errors.Is(err, indicators.ErrInvalidInput):
		return http.StatusBadRequest, "ERR_INVALID_INPUT"
	case errors.Is(err, forecast.ErrModelNotTrained):
		return http.StatusConflict, "ERR_MODEL_NOT_TRAINED"
	case errors.Is(err, journal.ErrDuplicateActiveEntry):
		return http.StatusConflict, "ERR_DUPLICATE_ACTIVE_ENTRY"
	case errors.Is(err, journal.ErrAlreadyValidated):
		return http.StatusConflict, "ERR_ALREADY_VALIDATED"
	case errors.Is(err, retrain.ErrNotCoolingDown):
		return http.StatusConflict, "ERR_NOT_COOLING_DOWN"
	case errors.Is(err, journal.ErrEntryNotFound):
		return http.StatusNotFound, "ERR_ENTRY_NOT_FOUND"
	case errors.Is(err, journal.ErrJournalUnavailable):
		return http.StatusServiceUnavailable, "ERR_JOURNAL_UNAVAILABLE"
	case errors.Is(err, feed.ErrDataUnavailable):
		return http.StatusBadGateway, "ERR_DATA_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "ERR_TIMEOUT"
	default:
		return http.StatusInternalServerError, "ERR_INTERNAL"
	}
}
