package http

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/aoi"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/csv"
	"github.com/Global-Water-Security-Center/data-exploration/internal/config"
	"github.com/Global-Water-Security-Center/data-exploration/internal/dispatch"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
	"github.com/Global-Water-Security-Center/data-exploration/internal/usecase"
)

// Handler serves dataset inspection, conversion jobs and point series.
type Handler struct {
	jobs     *usecase.JobRunner
	backend  dataset.Backend
	dataDir  string
	outDir   string
	workers  int
	datasets map[string]config.Dataset
}

// NewHandler creates a new HTTP handler. Request paths are resolved inside
// cfg.CacheDir and tiles are written below cfg.OutDir.
func NewHandler(cfg *config.Config, jobs *usecase.JobRunner) *Handler {
	return &Handler{
		jobs:     jobs,
		backend:  cfg.Backend,
		dataDir:  cfg.CacheDir,
		outDir:   cfg.OutDir,
		workers:  cfg.Workers,
		datasets: cfg.Datasets,
	}
}

// ConversionRequest is the body of POST /v1/conversions.
type ConversionRequest struct {
	Path      string    `json:"path" binding:"required"`
	Variables []string  `json:"variables"`
	BandField string    `json:"band_field"`
	NoData    *float64  `json:"nodata"`
	Wrap180   bool      `json:"wrap180"`
	Bounds    []float64 `json:"bounds"` // minx, miny, maxx, maxy
	Mode      string    `json:"mode"`
}

// CreateConversion handles POST /v1/conversions.
func (h *Handler) CreateConversion(c *gin.Context) {
	var body ConversionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	input, err := h.resolve(body.Path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	modeName := body.Mode
	if modeName == "" {
		modeName = "best-effort"
	}
	mode, err := dispatch.ParseMode(modeName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := usecase.ConvertRequest{
		Input:     input,
		OutDir:    h.outDir,
		Variables: body.Variables,
		BandField: body.BandField,
		NoData:    body.NoData,
		Wrap180:   body.Wrap180,
		Mode:      mode,
		Workers:   h.workers,
	}
	if len(body.Bounds) > 0 {
		if len(body.Bounds) != 4 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bounds must be [minx, miny, maxx, maxy]"})
			return
		}
		req.Bounds = &aoi.Bounds{MinX: body.Bounds[0], MinY: body.Bounds[1], MaxX: body.Bounds[2], MaxY: body.Bounds[3]}
	}

	job := h.jobs.Submit(req)
	c.Header("Location", "/v1/conversions/"+job.ID)
	c.JSON(http.StatusAccepted, job)
}

// GetConversion handles GET /v1/conversions/:id.
func (h *Handler) GetConversion(c *gin.Context) {
	job, ok := h.jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversion not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetDatasetInfo handles GET /v1/datasets/info.
func (h *Handler) GetDatasetInfo(c *gin.Context) {
	path, err := h.resolve(c.Query("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := usecase.Describe(path, h.backend)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	info.Path = c.Query("path")
	c.JSON(http.StatusOK, info)
}

// ListDatasets handles GET /v1/datasets.
func (h *Handler) ListDatasets(c *gin.Context) {
	type entry struct {
		ID          string   `json:"id"`
		Description string   `json:"description,omitempty"`
		Variables   []string `json:"variables,omitempty"`
	}
	cfg := config.Config{Datasets: h.datasets}
	out := make([]entry, 0, len(h.datasets))
	for _, id := range cfg.DatasetIDs() {
		d := h.datasets[id]
		out = append(out, entry{ID: id, Description: d.Description, Variables: d.Variables})
	}
	c.JSON(http.StatusOK, gin.H{"datasets": out, "count": len(out)})
}

// SeriesPoint is a JSON series sample; missing values are null.
type SeriesPoint struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// GetSeries handles GET /v1/series.
func (h *Handler) GetSeries(c *gin.Context) {
	path, err := h.resolve(c.Query("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	variable := c.Query("variable")
	if variable == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "variable parameter is required"})
		return
	}
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid latitude: %v", err)})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid longitude: %v", err)})
		return
	}

	res, err := usecase.Series(c.Request.Context(), h.backend, usecase.SeriesRequest{
		Input: path, Variable: variable, Lat: lat, Lon: lon,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if strings.EqualFold(c.Query("format"), "csv") {
		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		if err := csv.WriteSeries(c.Writer, variable, res.Points); err != nil {
			_ = c.Error(err)
		}
		return
	}

	points := make([]SeriesPoint, len(res.Points))
	for i, p := range res.Points {
		points[i] = SeriesPoint{Date: p.Date, Value: finite(p.Value)}
	}
	c.JSON(http.StatusOK, gin.H{
		"variable": res.Variable,
		"units":    res.Units,
		"lat":      res.Lat,
		"lon":      res.Lon,
		"points":   points,
		"summary": gin.H{
			"count": res.Summary.Count,
			"mean":  finite(res.Summary.Mean),
			"std":   finite(res.Summary.Std),
			"min":   finite(res.Summary.Min),
			"max":   finite(res.Summary.Max),
			"p95":   finite(res.Summary.P95),
		},
	})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// resolve maps a request path onto the data directory, rejecting paths that
// would escape it.
func (h *Handler) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path parameter is required")
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path must be relative to the data directory")
	}
	return filepath.Join(h.dataDir, clean), nil
}

func statusFor(err error) int {
	var ce *domain.ConfigurationError
	var me *domain.MissingCoordinateError
	switch {
	case errors.As(err, &ce), errors.As(err, &me):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
