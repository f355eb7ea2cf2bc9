package oscilloscope

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// WriteSeriesNPY saves a rendered series as a 2xN float64 array (row 0 the
// time axis in ms, row 1 the voltages) in numpy's .npy format, for offline
// analysis. The file is named trace_<ULID>.npy so captures sort by time.
func WriteSeriesNPY(dir string, series RenderedSeries) (string, error) {
	if series.Empty() {
		return "", fmt.Errorf("refusing to capture an empty series")
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}

	n := len(series.TimeMS)
	trace := mat.NewDense(2, n, nil)
	trace.SetRow(0, series.TimeMS)
	trace.SetRow(1, series.VoltageV)

	path := filepath.Join(dir, fmt.Sprintf("trace_%s.npy", ulid.Make()))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := npyio.Write(f, trace); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("cannot write %s: %w", path, err)
	}
	return path, nil
}

// ReadSeriesNPY loads a trace file written by WriteSeriesNPY.
func ReadSeriesNPY(path string) (RenderedSeries, error) {
	var series RenderedSeries
	f, err := os.Open(path)
	if err != nil {
		return series, err
	}
	defer f.Close()

	var trace mat.Dense
	if err := npyio.Read(f, &trace); err != nil {
		return series, fmt.Errorf("cannot read %s: %w", path, err)
	}
	r, c := trace.Dims()
	if r != 2 {
		return series, fmt.Errorf("%s holds a %dx%d array, want 2 rows", path, r, c)
	}
	series.TimeMS = mat.Row(nil, 0, &trace)
	series.VoltageV = mat.Row(nil, 1, &trace)
	return series, nil
}
