package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Point is one sample of a time series.
type Point struct {
	Date  string
	Value float64
}

// WriteSeries writes a "date,<column>" table. Missing values are written as
// empty cells.
func WriteSeries(w io.Writer, column string, points []Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", column}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, p := range points {
		v := ""
		if !math.IsNaN(p.Value) {
			v = strconv.FormatFloat(p.Value, 'f', -1, 64)
		}
		if err := cw.Write([]string{p.Date, v}); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CategoryRow counts the pixels of an area per category for one date.
type CategoryRow struct {
	Date   string
	Total  int
	Counts []int
}

// WriteCategoryCounts writes a "date,total_pixels,<category>..." table.
// Category names have their spaces replaced by underscores.
func WriteCategoryCounts(w io.Writer, categories []string, rows []CategoryRow) error {
	header := []string{"date", "total_pixels"}
	for _, c := range categories {
		header = append(header, strings.ReplaceAll(c, " ", "_"))
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range rows {
		if len(r.Counts) != len(categories) {
			return fmt.Errorf("row %s has %d counts for %d categories", r.Date, len(r.Counts), len(categories))
		}
		rec := []string{r.Date, strconv.Itoa(r.Total)}
		for _, n := range r.Counts {
			rec = append(rec, strconv.Itoa(n))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ThresholdRow counts, for one year, the dates whose share of the area
// reached each threshold.
type ThresholdRow struct {
	Year   int
	Counts []int
}

// WriteThresholdCounts writes a "year,<column>..." table.
func WriteThresholdCounts(w io.Writer, columns []string, rows []ThresholdRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"year"}, columns...)); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range rows {
		rec := []string{strconv.Itoa(r.Year)}
		for _, n := range r.Counts {
			rec = append(rec, strconv.Itoa(n))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
