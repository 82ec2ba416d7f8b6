// Package metrics scores predictions against reference labels.
//
// Only pixels where neither raster is NoData are counted. Ratios whose
// denominator is zero are reported as undefined through flag fields rather
// than as NaN, so results always encode as JSON.
package metrics

import (
	"fmt"

	"github.com/banshee-data/woodland.report/internal/raster"
)

// Matrix is a binary confusion matrix with wooded as the positive class.
type Matrix struct {
	TP int64 `json:"tp"`
	TN int64 `json:"tn"`
	FP int64 `json:"fp"`
	FN int64 `json:"fn"`
	// Skipped counts pixels with NoData in either raster.
	Skipped int64 `json:"skipped"`
}

// Eligible returns the number of counted pixels.
func (m Matrix) Eligible() int64 { return m.TP + m.TN + m.FP + m.FN }

// Add accumulates o into m.
func (m *Matrix) Add(o Matrix) {
	m.TP += o.TP
	m.TN += o.TN
	m.FP += o.FP
	m.FN += o.FN
	m.Skipped += o.Skipped
}

// Confusion counts pred against ref pixel by pixel.
func Confusion(pred, ref []uint8) (Matrix, error) {
	var m Matrix
	if len(pred) != len(ref) {
		return m, fmt.Errorf("prediction has %d pixels, reference has %d", len(pred), len(ref))
	}
	for i, p := range pred {
		r := ref[i]
		if !known(p) || !known(r) {
			return Matrix{}, fmt.Errorf("pixel %d: values %d/%d outside {0,1,255}", i, p, r)
		}
		switch {
		case p == raster.NoData || r == raster.NoData:
			m.Skipped++
		case p == raster.LabelWooded && r == raster.LabelWooded:
			m.TP++
		case p == raster.LabelNonWooded && r == raster.LabelNonWooded:
			m.TN++
		case p == raster.LabelWooded:
			m.FP++
		default:
			m.FN++
		}
	}
	return m, nil
}

func known(v uint8) bool {
	return v == raster.LabelWooded || v == raster.LabelNonWooded || v == raster.NoData
}

// Result holds the statistics of a confusion matrix. A ratio is meaningful
// only when its flag is set; Defined is false when no pixel was eligible.
type Result struct {
	Matrix   Matrix `json:"confusion"`
	Eligible int64  `json:"eligible"`
	Defined  bool   `json:"defined"`

	Accuracy         float64 `json:"accuracy"`
	Precision        float64 `json:"precision"`
	PrecisionDefined bool    `json:"precision_defined"`
	Recall           float64 `json:"recall"`
	RecallDefined    bool    `json:"recall_defined"`
	F1               float64 `json:"f1"`
	F1Defined        bool    `json:"f1_defined"`
	Kappa            float64 `json:"kappa"`
	KappaDefined     bool    `json:"kappa_defined"`
}

// Compute derives accuracy, precision, recall, F1 and Cohen's kappa.
func Compute(m Matrix) Result {
	res := Result{Matrix: m, Eligible: m.Eligible()}
	if res.Eligible == 0 {
		return res
	}
	res.Defined = true
	n := float64(res.Eligible)
	tp, tn, fp, fn := float64(m.TP), float64(m.TN), float64(m.FP), float64(m.FN)

	res.Accuracy = (tp + tn) / n
	res.Precision, res.PrecisionDefined = ratio(tp, tp+fp)
	res.Recall, res.RecallDefined = ratio(tp, tp+fn)
	res.F1, res.F1Defined = ratio(2*tp, 2*tp+fp+fn)

	po := res.Accuracy
	pe := ((tp+fp)*(tp+fn) + (fn+tn)*(fp+tn)) / (n * n)
	switch {
	case pe < 1:
		res.Kappa, res.KappaDefined = (po-pe)/(1-pe), true
	case po == 1:
		res.Kappa, res.KappaDefined = 1, true
	}
	return res
}

func ratio(num, den float64) (float64, bool) {
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

func (r Result) String() string {
	if !r.Defined {
		return fmt.Sprintf("undefined (0 eligible pixels, %d skipped)", r.Matrix.Skipped)
	}
	return fmt.Sprintf("accuracy %.4f, precision %s, recall %s, f1 %s, kappa %s over %d pixels (%d skipped)",
		r.Accuracy, opt(r.Precision, r.PrecisionDefined), opt(r.Recall, r.RecallDefined),
		opt(r.F1, r.F1Defined), opt(r.Kappa, r.KappaDefined), r.Eligible, r.Matrix.Skipped)
}

func opt(v float64, ok bool) string {
	if !ok {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", v)
}
