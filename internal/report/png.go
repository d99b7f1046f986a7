package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/anticheat.report/internal/fsutil"
)

var (
	colorSpeed    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorSigma3   = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	colorRobust   = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	colorAbs      = color.RGBA{R: 64, G: 64, B: 64, A: 255}
	colorProb     = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	colorDecision = color.RGBA{R: 148, G: 103, B: 189, A: 255}
	colorCheat    = color.RGBA{R: 214, G: 39, B: 40, A: 160}
)

const (
	pngWidth       = 14 * vg.Inch
	pngPanelHeight = 4 * vg.Inch
)

// WritePNG draws the speed panel, and the probability panel when the model
// pass ran, as one PNG.
func WritePNG(w io.Writer, tl *Timeline) error {
	if len(tl.Ticks) == 0 {
		return ErrNoTicks
	}

	speed, err := speedPlot(tl)
	if err != nil {
		return err
	}
	grid := [][]*plot.Plot{{speed}}
	if tl.HasModel {
		prob, err := probabilityPlot(tl)
		if err != nil {
			return err
		}
		grid = append(grid, []*plot.Plot{prob})
	}

	img := vgimg.New(pngWidth, pngPanelHeight*vg.Length(len(grid)))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      len(grid),
		Cols:      1,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
		PadY:      vg.Millimeter * 6,
	}
	canvases := plot.Align(grid, tiles, dc)
	for i := range grid {
		grid[i][0].Draw(canvases[i][0])
	}

	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// SaveTimelinePNG writes the PNG timeline to path, creating parent
// directories.
func SaveTimelinePNG(fsys fsutil.FileSystem, path string, tl *Timeline) error {
	f, err := fsutil.CreateWithDirs(fsutil.Or(fsys), path)
	if err != nil {
		return err
	}
	if err := WritePNG(f, tl); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func speedPlot(tl *Timeline) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = tl.Title
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Speed"

	pts := make(plotter.XYs, len(tl.Ticks))
	var cheats plotter.XYs
	for i, t := range tl.Ticks {
		pts[i] = plotter.XY{X: float64(t.Tick), Y: t.Speed}
		if t.GroundTruth {
			cheats = append(cheats, pts[i])
		}
	}
	if err := addLine(p, "speed", pts, colorSpeed, nil); err != nil {
		return nil, err
	}

	x0, x1 := pts[0].X, pts[len(pts)-1].X
	dashed := []vg.Length{vg.Points(4), vg.Points(2)}
	for _, h := range []struct {
		name  string
		y     float64
		color color.Color
	}{
		{"3 sigma", tl.Thresholds.Thr3Sigma, colorSigma3},
		{"robust", tl.Thresholds.ThrRobust, colorRobust},
		{"abs", tl.Thresholds.ThrAbs, colorAbs},
	} {
		if err := addLine(p, h.name, hline(h.y, x0, x1), h.color, dashed); err != nil {
			return nil, err
		}
	}

	if len(cheats) > 0 {
		s, err := plotter.NewScatter(cheats)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = colorCheat
		s.GlyphStyle.Radius = vg.Points(2.5)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add("ground truth", s)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func probabilityPlot(tl *Timeline) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Model probability"
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "P(cheat)"
	p.Y.Min = 0
	p.Y.Max = 1

	pts := make(plotter.XYs, len(tl.Ticks))
	var preds plotter.XYs
	for i, t := range tl.Ticks {
		pts[i] = plotter.XY{X: float64(t.Tick), Y: t.Probability}
		if t.MLPred {
			preds = append(preds, pts[i])
		}
	}
	if err := addLine(p, "probability", pts, colorProb, nil); err != nil {
		return nil, err
	}
	x0, x1 := pts[0].X, pts[len(pts)-1].X
	dashed := []vg.Length{vg.Points(4), vg.Points(2)}
	if err := addLine(p, "decision threshold", hline(tl.DecisionThreshold, x0, x1), colorDecision, dashed); err != nil {
		return nil, err
	}

	if len(preds) > 0 {
		s, err := plotter.NewScatter(preds)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = colorSigma3
		s.GlyphStyle.Radius = vg.Points(2)
		s.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(s)
		p.Legend.Add("final prediction", s)
	}

	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.XOffs = 10
	p.Legend.YOffs = -10
	return p, nil
}

func addLine(p *plot.Plot, name string, pts plotter.XYs, c color.Color, dashes []vg.Length) error {
	l, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s line: %w", name, err)
	}
	l.Color = c
	l.Width = vg.Points(1)
	l.Dashes = dashes
	p.Add(l)
	p.Legend.Add(name, l)
	return nil
}

func hline(y, x0, x1 float64) plotter.XYs {
	if x1 == x0 {
		x1 = x0 + 1
	}
	return plotter.XYs{{X: x0, Y: y}, {X: x1, Y: y}}
}
