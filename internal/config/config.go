// Package config loads runtime settings from a .env file, the environment
// and an optional TOML dataset registry.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang/glog"
	"github.com/joho/godotenv"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// DefaultDateFormat is the layout used when a dataset does not set one.
const DefaultDateFormat = "2006-01-02"

// Dataset describes a remote dataset whose files are fetched on demand.
type Dataset struct {
	// BaseURI is joined with the formatted file name to build the URL.
	BaseURI string `toml:"base_uri"`
	// FileFormat is a pattern over {variable} and {date}.
	FileFormat string `toml:"file_format"`
	// DateFormat is a Go time layout applied to the requested date.
	DateFormat string `toml:"date_format"`
	// BucketID is prefixed to the file name when set.
	BucketID    string   `toml:"bucket_id"`
	Variables   []string `toml:"variables"`
	Description string   `toml:"description"`
}

// Layout returns the date layout of the dataset.
func (d Dataset) Layout() string {
	if d.DateFormat == "" {
		return DefaultDateFormat
	}
	return d.DateFormat
}

// NormalizeDate parses a YYYY-MM-DD date and formats it with the dataset's
// layout.
func (d Dataset) NormalizeDate(date string) (string, error) {
	t, err := time.Parse(DefaultDateFormat, date)
	if err != nil {
		// Already in the dataset's own layout.
		if t, err = time.Parse(d.Layout(), date); err != nil {
			return "", domain.Configf("invalid date %q: expected YYYY-MM-DD or %s", date, d.Layout())
		}
	}
	return t.Format(d.Layout()), nil
}

// FileName formats the dataset file name for a variable and a date already
// normalized with NormalizeDate.
func (d Dataset) FileName(variable, date string) (string, error) {
	name, err := domain.FormatPattern(d.FileFormat, map[string]string{"variable": variable, "date": date})
	if err != nil {
		return "", err
	}
	if d.BucketID != "" {
		name = d.BucketID + "/" + name
	}
	return name, nil
}

// URL joins BaseURI and a file name.
func (d Dataset) URL(fileName string) string {
	return strings.TrimRight(d.BaseURI, "/") + "/" + strings.TrimLeft(fileName, "/")
}

// Config holds every runtime setting. It is built once in main and passed
// to the components that need it.
type Config struct {
	Port               string
	CacheDir           string
	OutDir             string
	RegistryPath       string
	DatasetsPath       string
	Workers            int
	Backend            dataset.Backend
	ErrorLogPath       string
	GEEKeyPath         string
	CORSAllowedOrigins []string

	Datasets map[string]Dataset
}

// Load reads envFile (when it exists) into the process environment and
// builds a Config from it. Variables already set in the environment win.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment.
func FromEnv() (*Config, error) {
	workers, err := getEnvInt("WORKERS", runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		return nil, domain.Configf("WORKERS must be at least 1, got %d", workers)
	}
	backend, err := dataset.ParseBackend(getEnv("NC_BACKEND", string(dataset.BackendCDF)))
	if err != nil {
		return nil, err
	}

	c := &Config{
		Port:         getEnv("PORT", "8080"),
		CacheDir:     getEnv("CACHE_DIR", "_cache"),
		OutDir:       getEnv("OUT_DIR", "_tiles"),
		RegistryPath: getEnv("REGISTRY_PATH", "file_registry.sqlite"),
		DatasetsPath: getEnv("DATASETS_PATH", ""),
		Workers:      workers,
		Backend:      backend,
		ErrorLogPath: getEnv("ERROR_LOG_PATH", ""),
		GEEKeyPath:   getEnv("GEE_KEY_PATH", ""),
		Datasets:     map[string]Dataset{},
	}
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSAllowedOrigins = append(c.CORSAllowedOrigins, o)
			}
		}
	}
	if c.DatasetsPath != "" {
		ds, err := LoadDatasets(c.DatasetsPath)
		if err != nil {
			return nil, err
		}
		c.Datasets = ds
	}
	return c, nil
}

// LoadDatasets decodes a TOML dataset registry of the form
//
//	[era5_daily]
//	base_uri = "https://..."
//	file_format = "{variable}/{date}.nc"
func LoadDatasets(path string) (map[string]Dataset, error) {
	//nolint:gosec // G304: path comes from configuration.
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset registry %s: %w", path, err)
	}
	defer func() { _ = r.Close() }()

	out := map[string]Dataset{}
	if _, err := toml.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode dataset registry %s: %w", path, err)
	}
	for id, d := range out {
		if d.BaseURI == "" || d.FileFormat == "" {
			return nil, domain.Configf("dataset %s: base_uri and file_format are required", id)
		}
	}
	return out, nil
}

// Dataset returns the registry entry for id.
func (c *Config) Dataset(id string) (Dataset, error) {
	d, ok := c.Datasets[id]
	if !ok {
		return Dataset{}, domain.Configf("unknown dataset %q (available: %s)", id, strings.Join(c.DatasetIDs(), ", "))
	}
	return d, nil
}

// DatasetIDs returns the configured dataset ids, sorted.
func (c *Config) DatasetIDs() []string {
	ids := make([]string, 0, len(c.Datasets))
	for id := range c.Datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Log writes the effective configuration, one setting per line.
func (c *Config) Log() {
	glog.Infof("Cache directory: %s", c.CacheDir)
	glog.Infof("Output directory: %s", c.OutDir)
	glog.Infof("Registry: %s", c.RegistryPath)
	glog.Infof("Workers: %d", c.Workers)
	glog.Infof("NetCDF backend: %s", c.Backend)
	if c.ErrorLogPath != "" {
		glog.Infof("Error log: %s", c.ErrorLogPath)
	}
	if c.GEEKeyPath != "" {
		glog.Infof("Earth Engine key: %s", c.GEEKeyPath)
	}
	if len(c.Datasets) > 0 {
		glog.Infof("Datasets: %s", strings.Join(c.DatasetIDs(), ", "))
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.Configf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}
