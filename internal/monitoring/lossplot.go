package monitoring

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// LossPoint is one epoch of training history.
type LossPoint struct {
	Epoch int
	Train float64
	// Val is NaN when no validation pass ran for the epoch.
	Val float64
}

// SaveLossPlot writes a PNG (or any format gonum/plot infers from the
// extension) with the training and validation loss curves.
func SaveLossPlot(path, title string, history []LossPoint) error {
	if len(history) == 0 {
		return fmt.Errorf("no loss history to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Masked BCE"

	train := make(plotter.XYs, 0, len(history))
	val := make(plotter.XYs, 0, len(history))
	for _, h := range history {
		train = append(train, plotter.XY{X: float64(h.Epoch), Y: h.Train})
		if !math.IsNaN(h.Val) {
			val = append(val, plotter.XY{X: float64(h.Epoch), Y: h.Val})
		}
	}

	trainLine, err := plotter.NewLine(train)
	if err != nil {
		return fmt.Errorf("create train line: %w", err)
	}
	trainLine.Width = vg.Points(1)
	trainLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(trainLine)
	p.Legend.Add("train", trainLine)

	if len(val) > 0 {
		valLine, err := plotter.NewLine(val)
		if err != nil {
			return fmt.Errorf("create validation line: %w", err)
		}
		valLine.Width = vg.Points(1)
		valLine.Color = color.RGBA{R: 255, G: 127, B: 14, A: 255}
		valLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(valLine)
		p.Legend.Add("validation", valLine)
	}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save loss plot: %w", err)
	}
	return nil
}
