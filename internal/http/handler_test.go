package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/geotiff"
	"github.com/Global-Water-Security-Center/data-exploration/internal/config"
	"github.com/Global-Water-Security-Center/data-exploration/internal/usecase"
)

func setup(t *testing.T) (*gin.Engine, *usecase.JobRunner, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := &config.Config{
		CacheDir: filepath.Join(dir, "data"),
		OutDir:   filepath.Join(dir, "tiles"),
		Workers:  2,
		Backend:  dataset.BackendCDF,
		Datasets: map[string]config.Dataset{
			"era5_daily": {BaseURI: "https://e.org", FileFormat: "{date}.nc", Description: "ERA5 daily"},
		},
	}
	err := dataset.WriteNetCDF(filepath.Join(cfg.CacheDir, "tas.nc"), dataset.Synthetic{
		Axes: []dataset.SyntheticAxis{
			{Name: "time", Values: []float64{0, 1, 2}, Units: "days since 2010-01-01", Calendar: "standard"},
			{Name: "lat", Values: []float64{1, 0}},
			{Name: "lon", Values: []float64{0, 1}},
		},
		Vars: []dataset.SyntheticVar{
			{Name: "tas", Dims: []string{"time", "lat", "lon"}, Units: "K", Data: []float32{
				1, 1, 1, 1,
				2, 2, 2, 2,
				3, 3, 3, 3,
			}},
		},
	})
	require.NoError(t, err)

	jobs := usecase.NewJobRunner(context.Background(), usecase.NewConverter(cfg.Backend, geotiff.NewWriter()))
	return SetupRouter(NewHandler(cfg, jobs), nil), jobs, cfg
}

func do(router *gin.Engine, method, target string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router, _, _ := setup(t)
	w := do(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestListDatasets(t *testing.T) {
	router, _, _ := setup(t)
	w := do(router, http.MethodGet, "/v1/datasets", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count    int `json:"count"`
		Datasets []struct {
			ID string `json:"id"`
		} `json:"datasets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, "era5_daily", body.Datasets[0].ID)
}

func TestGetDatasetInfo(t *testing.T) {
	router, _, _ := setup(t)

	w := do(router, http.MethodGet, "/v1/datasets/info?path=tas.nc", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var info usecase.DatasetInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Equal(t, "tas.nc", info.Path)
	require.Len(t, info.Axes, 3)
	require.Equal(t, "2010-01-03", info.Axes[0].Last)
	require.NotNil(t, info.Grid)
	require.Equal(t, -0.5, info.Grid.ResY)

	w = do(router, http.MethodGet, "/v1/datasets/info?path=../etc/passwd", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/v1/datasets/info", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConversionLifecycle(t *testing.T) {
	router, jobs, cfg := setup(t)

	body, _ := json.Marshal(ConversionRequest{Path: "tas.nc", Mode: "fail-fast"})
	w := do(router, http.MethodPost, "/v1/conversions", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var job usecase.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	require.NotEmpty(t, job.ID)
	require.Equal(t, "/v1/conversions/"+job.ID, w.Header().Get("Location"))

	jobs.Wait()
	w = do(router, http.MethodGet, "/v1/conversions/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	require.Equal(t, usecase.JobSucceeded, job.Status)
	require.Equal(t, 3, job.Result.Written)
	for _, p := range job.Result.Paths {
		require.True(t, strings.HasPrefix(p, cfg.OutDir), p)
	}

	w = do(router, http.MethodGet, "/v1/conversions/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateConversion_BadRequests(t *testing.T) {
	router, _, _ := setup(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing path", `{}`},
		{"bad mode", `{"path":"tas.nc","mode":"sometimes"}`},
		{"bad bounds", `{"path":"tas.nc","bounds":[1,2,3]}`},
		{"escaping path", `{"path":"../x.nc"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/v1/conversions", []byte(tt.body))
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestGetSeries(t *testing.T) {
	router, _, _ := setup(t)

	w := do(router, http.MethodGet, "/v1/series?path=tas.nc&variable=tas&lat=0.5&lon=0.5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Points  []SeriesPoint `json:"points"`
		Summary struct {
			Count int      `json:"count"`
			Mean  *float64 `json:"mean"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Points, 3)
	require.Equal(t, "2010-01-02", body.Points[1].Date)
	require.InDelta(t, 2.0, *body.Points[1].Value, 1e-6)
	require.InDelta(t, 2.0, *body.Summary.Mean, 1e-6)

	w = do(router, http.MethodGet, "/v1/series?path=tas.nc&variable=tas&lat=0.5&lon=0.5&format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Body.String(), "date,tas\n2010-01-01,1\n"), w.Body.String())

	w = do(router, http.MethodGet, "/v1/series?path=tas.nc&variable=tas&lat=abc&lon=0", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/v1/series?path=tas.nc&variable=pr&lat=0&lon=0", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCORS(t *testing.T) {
	router := SetupRouter(&Handler{}, []string{"https://explorer.example.org"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://explorer.example.org")
	router.ServeHTTP(w, req)
	require.Equal(t, "https://explorer.example.org", w.Header().Get("Access-Control-Allow-Origin"))
}
