package usecase

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/fetch"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store"
	"github.com/Global-Water-Security-Center/data-exploration/internal/config"
)

// FileFetcher resolves dataset/variable/date requests to cached local files,
// downloading and recording them on first use.
type FileFetcher struct {
	lookup  func(id string) (config.Dataset, error)
	index   store.FileIndex
	fetcher *fetch.Fetcher
}

// NewFileFetcher creates a FileFetcher over the configured datasets.
func NewFileFetcher(cfg *config.Config, index store.FileIndex, f *fetch.Fetcher) *FileFetcher {
	return &FileFetcher{lookup: cfg.Dataset, index: index, fetcher: f}
}

// Cached lists the files recorded for a configured dataset.
func (f *FileFetcher) Cached(ctx context.Context, datasetID string) ([]store.FileRecord, error) {
	if _, err := f.lookup(datasetID); err != nil {
		return nil, err
	}
	return f.index.Files(ctx, datasetID)
}

// Fetch returns the local path of a dataset file for a date given as
// YYYY-MM-DD.
func (f *FileFetcher) Fetch(ctx context.Context, datasetID, variableID, date string) (string, error) {
	d, err := f.lookup(datasetID)
	if err != nil {
		return "", err
	}
	formatted, err := d.NormalizeDate(date)
	if err != nil {
		return "", err
	}

	if p, ok, err := f.index.LookupFile(ctx, datasetID, variableID, formatted); err != nil {
		return "", err
	} else if ok {
		if _, statErr := os.Stat(p); statErr == nil {
			return p, nil
		} else if !errors.Is(statErr, fs.ErrNotExist) {
			return "", statErr
		}
		glog.Warningf("%s is registered but missing, fetching again", p)
	}

	name, err := d.FileName(variableID, formatted)
	if err != nil {
		return "", err
	}
	path, err := f.fetcher.FetchAs(ctx, d.URL(name), filepath.Join(datasetID, filepath.FromSlash(name)))
	if err != nil {
		return "", err
	}

	inserted, err := f.index.RecordFile(ctx, store.FileRecord{
		DatasetID:  datasetID,
		VariableID: variableID,
		DateStr:    formatted,
		FilePath:   path,
	})
	if err != nil {
		return "", err
	}
	if !inserted {
		glog.V(1).Infof("%s/%s/%s already registered", datasetID, variableID, formatted)
	}
	return path, nil
}
