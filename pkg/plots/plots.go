// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

// Package plots draws the figures of the pynet examples with gonum/plot.
//
// Figures are saved to files, the format is taken from the file extension (".png", ".svg", ".pdf", ...).
package plots

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// SeriesColors are the fill colors of the series of a histogram, in order. Colors are reused if
// there are more series.
var SeriesColors = []color.Color{color.Black, color.Gray{Y: 0x80}, color.Gray{Y: 0xC0}}

// Default figure sizes.
var (
	Width  = 8 * vg.Inch
	Height = 6 * vg.Inch
)

// Series is a named list of values.
type Series struct {
	Name   string
	Values []float64
}

// HistogramBins splits the range of all the values of all series in numBins bins of equal width, and
// counts the values of each series in each bin.
//
// It returns the numBins+1 bin edges, and the counts indexed by [series][bin].
func HistogramBins(numBins int, series ...Series) (edges []float64, counts [][]float64, err error) {
	if numBins <= 0 {
		return nil, nil, errors.Errorf("numBins must be > 0, got %d", numBins)
	}
	low, high := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, errors.Errorf("series %q has non-finite value %g", s.Name, v)
			}
			low, high = min(low, v), max(high, v)
		}
	}
	if low > high {
		return nil, nil, errors.New("no values to plot")
	}
	if low == high {
		low, high = low-0.5, high+0.5
	}
	edges = floats.Span(make([]float64, numBins+1), low, high)
	// stat.Histogram bins are half-open, so the last edge is nudged to include the maximum.
	dividers := slices.Clone(edges)
	dividers[numBins] = math.Nextafter(high, math.Inf(1))
	counts = make([][]float64, len(series))
	for ii, s := range series {
		sorted := slices.Clone(s.Values)
		slices.Sort(sorted)
		counts[ii] = stat.Histogram(nil, dividers, sorted, nil)
	}
	return edges, counts, nil
}

// Histogram plots the series side by side over shared bins, with a legend of the series names.
func Histogram(title, xLabel, yLabel string, numBins int, series ...Series) (*plot.Plot, error) {
	edges, counts, err := HistogramBins(numBins, series...)
	if err != nil {
		return nil, errors.WithMessagef(err, "histogram %q", title)
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Legend.Top = true

	numSeries := float64(len(series))
	binWidth := edges[1] - edges[0]
	for ii, s := range series {
		hist := &plotter.Histogram{
			Bins:      make([]plotter.HistogramBin, numBins),
			Width:     binWidth / numSeries,
			FillColor: SeriesColors[ii%len(SeriesColors)],
			LineStyle: plotter.DefaultLineStyle,
		}
		hist.LineStyle.Width = vg.Length(0.5)
		for bin := range numBins {
			start := edges[bin] + float64(ii)*hist.Width
			hist.Bins[bin] = plotter.HistogramBin{Min: start, Max: start + hist.Width, Weight: counts[ii][bin]}
		}
		p.Add(hist)
		p.Legend.Add(s.Name, hist)
	}
	return p, nil
}

// BarChart plots one bar per value, labeled with its index. The subtitle, if given, is added as a
// second line of the title.
func BarChart(title, subtitle string, values []float64) (*plot.Plot, error) {
	if len(values) == 0 {
		return nil, errors.Errorf("bar chart %q: no values to plot", title)
	}
	p := plot.New()
	p.Title.Text = title
	if subtitle != "" {
		p.Title.Text += "\n" + subtitle
	}
	bars, err := plotter.NewBarChart(plotter.Values(values), vg.Points(20))
	if err != nil {
		return nil, errors.Wrapf(err, "bar chart %q", title)
	}
	bars.Color = SeriesColors[0]
	bars.LineStyle.Width = 0
	p.Add(bars)
	labels := make([]string, len(values))
	for ii := range labels {
		labels[ii] = strconv.Itoa(ii)
	}
	p.NominalX(labels...)
	return p, nil
}

// Save the plot to path, with the default figure size.
func Save(p *plot.Plot, path string) error {
	if err := p.Save(Width, Height, path); err != nil {
		return errors.Wrapf(err, "saving plot to %q", path)
	}
	return nil
}

// SaveRow saves the plots side by side in one PNG figure, the equivalent of a row of subplots.
// Each plot is given the default figure size.
func SaveRow(path string, plots ...*plot.Plot) error {
	if len(plots) == 0 {
		return errors.New("no plots to save")
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".png" {
		return errors.Errorf("SaveRow only supports .png files, got %q", path)
	}
	img := vgimg.New(Width*vg.Length(len(plots)), Height)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1,
		Cols: len(plots),
		PadX: vg.Millimeter,
		PadY: vg.Millimeter,
	}
	canvases := plot.Align([][]*plot.Plot{plots}, tiles, dc)
	for ii, p := range plots {
		p.Draw(canvases[0][ii])
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err = png.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %q", path)
	}
	return errors.Wrapf(f.Close(), "closing %q", path)
}
