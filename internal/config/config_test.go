package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

const registryTOML = `
[era5_daily]
base_uri = "https://data.example.org/era5/"
file_format = "reanalysis-era5-sfc-daily-{date}.nc"
date_format = "2006-01-02"
variables = ["sum_tp_mm", "mean_t2m_c"]

[gdm]
base_uri = "https://data.example.org/gdm"
file_format = "{variable}/{date}.tif"
date_format = "20060102"
bucket_id = "aer"
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "CACHE_DIR", "OUT_DIR", "REGISTRY_PATH", "DATASETS_PATH",
		"WORKERS", "NC_BACKEND", "ERROR_LOG_PATH", "GEE_KEY_PATH", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	c, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "8080", c.Port)
	require.Equal(t, "_cache", c.CacheDir)
	require.Equal(t, "_tiles", c.OutDir)
	require.Equal(t, "file_registry.sqlite", c.RegistryPath)
	require.Equal(t, dataset.BackendCDF, c.Backend)
	require.GreaterOrEqual(t, c.Workers, 1)
	require.Empty(t, c.Datasets)
	require.Nil(t, c.CORSAllowedOrigins)
}

func TestLoad_EnvFileAndRegistry(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	regPath := filepath.Join(dir, "datasets.toml")
	require.NoError(t, os.WriteFile(regPath, []byte(registryTOML), 0o644))
	envPath := filepath.Join(dir, ".env")
	env := "WORKERS=3\nNC_BACKEND=native\nCORS_ALLOWED_ORIGINS=https://a.org, https://b.org\nDATASETS_PATH=" + regPath + "\n"
	require.NoError(t, os.WriteFile(envPath, []byte(env), 0o644))

	// godotenv does not override variables that are already set, so unset
	// the ones clearEnv emptied.
	for _, k := range []string{"WORKERS", "NC_BACKEND", "CORS_ALLOWED_ORIGINS", "DATASETS_PATH"} {
		require.NoError(t, os.Unsetenv(k))
	}
	t.Cleanup(func() {
		for _, k := range []string{"WORKERS", "NC_BACKEND", "CORS_ALLOWED_ORIGINS", "DATASETS_PATH"} {
			_ = os.Unsetenv(k)
		}
	})

	c, err := Load(envPath)
	require.NoError(t, err)
	require.Equal(t, 3, c.Workers)
	require.Equal(t, dataset.BackendNative, c.Backend)
	require.Equal(t, []string{"https://a.org", "https://b.org"}, c.CORSAllowedOrigins)
	require.Equal(t, []string{"era5_daily", "gdm"}, c.DatasetIDs())

	era5, err := c.Dataset("era5_daily")
	require.NoError(t, err)
	date, err := era5.NormalizeDate("2021-05-01")
	require.NoError(t, err)
	name, err := era5.FileName("sum_tp_mm", date)
	require.NoError(t, err)
	require.Equal(t, "reanalysis-era5-sfc-daily-2021-05-01.nc", name)
	require.Equal(t, "https://data.example.org/era5/reanalysis-era5-sfc-daily-2021-05-01.nc", era5.URL(name))

	gdm, err := c.Dataset("gdm")
	require.NoError(t, err)
	date, err = gdm.NormalizeDate("2021-05-01")
	require.NoError(t, err)
	require.Equal(t, "20210501", date)
	name, err = gdm.FileName("drought", date)
	require.NoError(t, err)
	require.Equal(t, "aer/drought/20210501.tif", name)

	_, err = c.Dataset("nope")
	var ce *domain.ConfigurationError
	require.True(t, errors.As(err, &ce))
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
}

func TestFromEnv_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKERS", "many")
	_, err := FromEnv()
	require.Error(t, err)

	t.Setenv("WORKERS", "0")
	_, err = FromEnv()
	require.Error(t, err)

	t.Setenv("WORKERS", "2")
	t.Setenv("NC_BACKEND", "hdf")
	_, err = FromEnv()
	require.Error(t, err)
}

func TestLoadDatasets_RequiresFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[x]\nbase_uri = \"https://e.org\"\n"), 0o644))
	_, err := LoadDatasets(path)
	require.Error(t, err)
}
