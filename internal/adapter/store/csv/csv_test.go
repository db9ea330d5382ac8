package csv

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const urlList = `pr,historical,SAM0-UNICON,r1i1p1f1,http://example.org/pr_day_SAM0-UNICON_historical_r1i1p1f1_gn_19000101-19001231.nc
# comment
tas, ssp245, CanESM5, r1i1p1f1, http://example.org/tas_day_CanESM5_ssp245_r1i1p1f1_gn_20150101-20201231.nc

pr,ssp585,CanESM5,r2i1p1f1,http://example.org/pr_day_CanESM5_ssp585_r2i1p1f1_gn_20150101-20201231.nc
`

func TestLoadURLList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.csv")
	if err := os.WriteFile(path, []byte(urlList), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := LoadURLList(path)
	if err != nil {
		t.Fatalf("LoadURLList: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	e := entries[1]
	if e.Variable != "tas" || e.Scenario != "ssp245" || e.Model != "CanESM5" || e.Variant != "r1i1p1f1" {
		t.Errorf("entry 1 = %+v", e)
	}
	if !strings.HasSuffix(e.URL, "20150101-20201231.nc") {
		t.Errorf("url = %q", e.URL)
	}
	if e.Vars()["model"] != "CanESM5" {
		t.Errorf("Vars = %v", e.Vars())
	}
}

func TestReadURLList_BadRecord(t *testing.T) {
	if _, err := ReadURLList(strings.NewReader("pr,historical,http://x\n")); err == nil {
		t.Fatal("expected error for short record")
	}
}

func TestShuffle_Deterministic(t *testing.T) {
	mk := func() []URLEntry {
		out := make([]URLEntry, 20)
		for i := range out {
			out[i] = URLEntry{Variable: "pr", URL: string(rune('a' + i))}
		}
		return out
	}
	a, b := mk(), mk()
	Shuffle(a, 1)
	Shuffle(b, 1)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("shuffle with the same seed differs at %d", i)
		}
	}
	same := true
	for i, e := range a {
		if e != mk()[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("shuffle left the list unchanged")
	}
}

func TestWriteSeries(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSeries(&buf, "pr", []Point{
		{Date: "2001-01-01", Value: 1.5},
		{Date: "2001-01-02", Value: math.NaN()},
	})
	if err != nil {
		t.Fatalf("WriteSeries: %v", err)
	}
	want := "date,pr\n2001-01-01,1.5\n2001-01-02,\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteCategoryCounts(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCategoryCounts(&buf, []string{"D0 - Abnormally Dry", "D1 - Moderate Drought"}, []CategoryRow{
		{Date: "2020-01", Total: 10, Counts: []int{3, 7}},
	})
	if err != nil {
		t.Fatalf("WriteCategoryCounts: %v", err)
	}
	want := "date,total_pixels,D0_-_Abnormally_Dry,D1_-_Moderate_Drought\n2020-01,10,3,7\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	err = WriteCategoryCounts(&buf, []string{"D0"}, []CategoryRow{{Date: "2020-02", Counts: []int{1, 2}}})
	if err == nil {
		t.Error("expected error for a row with too many counts")
	}
}

func TestWriteThresholdCounts(t *testing.T) {
	var buf bytes.Buffer
	err := WriteThresholdCounts(&buf, []string{"a", "b"}, []ThresholdRow{
		{Year: 2020, Counts: []int{2, 1}},
		{Year: 2021, Counts: []int{0, 0}},
	})
	if err != nil {
		t.Fatalf("WriteThresholdCounts: %v", err)
	}
	if want := "year,a,b\n2020,2,1\n2021,0,0\n"; buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
