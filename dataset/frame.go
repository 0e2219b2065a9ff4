// Package dataset turns wearable and clinical CSV exports into model-ready
// sequences.
//
// A Frame holds the raw rows: one patient identifier, one week number and a
// set of numeric columns per row. The preprocessing steps (Preprocess,
// ResetWeekNumbers, TransformTarget) operate on Frames. BuildSamples then
// groups rows by (patient, week) into fixed-length, zero-padded sequences,
// and Loader batches those sequences for training and evaluation.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrMissingColumn is returned when a CSV file lacks a required column.
	ErrMissingColumn = errors.New("missing column")
	// ErrEmpty is returned when no usable rows remain.
	ErrEmpty = errors.New("no rows")
)

// LoadOptions names the columns to read.
type LoadOptions struct {
	IDColumn   string
	WeekColumn string
	Columns    []string // numeric columns besides the week
}

// Frame is a column-indexed table of numeric values with a patient id per row.
// Missing values are NaN.
type Frame struct {
	Columns    []string
	WeekColumn string
	IDs        []string
	Values     [][]float64 // Values[row][col]

	index map[string]int
}

// NewFrame creates an empty frame. The week column is always column 0.
func NewFrame(weekColumn string, columns []string) *Frame {
	cols := make([]string, 0, len(columns)+1)
	cols = append(cols, weekColumn)
	seen := map[string]bool{weekColumn: true}
	for _, c := range columns {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	f := &Frame{Columns: cols, WeekColumn: weekColumn}
	f.reindex()
	return f
}

func (f *Frame) reindex() {
	f.index = make(map[string]int, len(f.Columns))
	for i, c := range f.Columns {
		f.index[c] = i
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.IDs)
}

// Col returns the index of a column.
func (f *Frame) Col(name string) (int, error) {
	i, ok := f.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	return i, nil
}

func (f *Frame) cols(names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		c, err := f.Col(n)
		if err != nil {
			return nil, err
		}
		idx[i] = c
	}
	return idx, nil
}

// Week returns the week number of row i.
func (f *Frame) Week(i int) float64 {
	return f.Values[i][0]
}

// Append adds a row. values must follow f.Columns.
func (f *Frame) Append(id string, values []float64) {
	f.IDs = append(f.IDs, id)
	f.Values = append(f.Values, values)
}

// filter returns a frame sharing column layout with only the rows keep accepts.
func (f *Frame) filter(keep func(i int) bool) *Frame {
	out := &Frame{Columns: f.Columns, WeekColumn: f.WeekColumn, index: f.index}
	for i := range f.IDs {
		if keep(i) {
			out.IDs = append(out.IDs, f.IDs[i])
			out.Values = append(out.Values, f.Values[i])
		}
	}
	return out
}

// Clone deep-copies the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Columns:    append([]string(nil), f.Columns...),
		WeekColumn: f.WeekColumn,
		IDs:        append([]string(nil), f.IDs...),
		Values:     make([][]float64, len(f.Values)),
	}
	for i, row := range f.Values {
		out.Values[i] = append([]float64(nil), row...)
	}
	out.reindex()
	return out
}

// LoadCSV reads and concatenates CSV files in order. Only the id, week and
// requested columns are kept.
func LoadCSV(paths []string, opts LoadOptions) (*Frame, error) {
	if len(paths) == 0 {
		return nil, errors.New("no data paths given")
	}
	f := NewFrame(opts.WeekColumn, opts.Columns)
	for _, p := range paths {
		file, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		err = readCSV(f, file, p, opts)
		file.Close()
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ReadCSV appends the rows of r to a new frame. name is used in errors.
func ReadCSV(r io.Reader, name string, opts LoadOptions) (*Frame, error) {
	f := NewFrame(opts.WeekColumn, opts.Columns)
	if err := readCSV(f, r, name, opts); err != nil {
		return nil, err
	}
	return f, nil
}

func readCSV(f *Frame, r io.Reader, name string, opts LoadOptions) error {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("%s: read header: %w", name, err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	idPos, ok := pos[opts.IDColumn]
	if !ok {
		return fmt.Errorf("%s: %w: %s", name, ErrMissingColumn, opts.IDColumn)
	}
	src := make([]int, len(f.Columns))
	for i, c := range f.Columns {
		p, ok := pos[c]
		if !ok {
			return fmt.Errorf("%s: %w: %s", name, ErrMissingColumn, c)
		}
		src[i] = p
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		values := make([]float64, len(src))
		for i, p := range src {
			v, err := parseCell(rec[p])
			if err != nil {
				return fmt.Errorf("%s:%d: column %s: %w", name, line, f.Columns[i], err)
			}
			values[i] = v
		}
		f.Append(strings.TrimSpace(rec[idPos]), values)
	}
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", "none":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
