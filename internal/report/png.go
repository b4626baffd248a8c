package report

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/speedplan/internal/planner"
	"github.com/banshee-data/speedplan/internal/units"
)

var (
	colourX   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colourDX  = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	colourDDX = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// WritePNG draws position, speed and acceleration against time as three
// stacked plots sharing the time axis.
func WritePNG(w io.Writer, title string, resp *planner.Response, unit string) error {
	if err := checkResponse(resp, unit); err != nil {
		return err
	}

	pX, err := linePlot(resp.T, resp.X, colourX)
	if err != nil {
		return err
	}
	pX.Title.Text = title
	pX.Y.Label.Text = "Position (m)"

	pDX, err := linePlot(resp.T, units.ConvertSpeeds(resp.DX, unit), colourDX)
	if err != nil {
		return err
	}
	pDX.Y.Label.Text = "Speed (" + units.SpeedLabel(unit) + ")"

	pDDX, err := linePlot(resp.T, resp.DDX, colourDDX)
	if err != nil {
		return err
	}
	pDDX.Y.Label.Text = "Acceleration (m/s²)"
	pDDX.X.Label.Text = "Time (s)"

	plots := [][]*plot.Plot{{pX}, {pDX}, {pDDX}}
	img := vgimg.New(10*vg.Inch, 9*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 3, Cols: 1, PadY: vg.Millimeter * 2, PadTop: vg.Millimeter * 2}
	canvases := plot.Align(plots, tiles, dc)
	for row := range plots {
		plots[row][0].Draw(canvases[row][0])
	}

	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		return fmt.Errorf("report: encode png: %w", err)
	}
	return nil
}

// SavePNG writes the WritePNG chart to path.
func SavePNG(path, title string, resp *planner.Response, unit string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePNG(f, title, resp, unit); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func linePlot(t, v []float64, c color.Color) (*plot.Plot, error) {
	pts := make(plotter.XYs, len(t))
	for i := range t {
		pts[i] = plotter.XY{X: t[i], Y: v[i]}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = c
	line.Width = vg.Points(1.5)

	p := plot.New()
	p.Add(line, plotter.NewGrid())
	return p, nil
}
