package bench

import (
	"context"
	"fmt"
	"math"

	"github.com/patrikhermansson/cbir/engine"
	"github.com/rs/zerolog/log"
)

// SweepPoint is the evaluation of one similarity radius.
type SweepPoint struct {
	Radius      float64 `json:"radius"`
	Precision   float64 `json:"precision"`
	Recall      float64 `json:"recall"`
	F1          float64 `json:"f1"`
	Comparisons float64 `json:"comparisons"`
}

// SweepResult lists every evaluated radius and the one with the highest mean
// F1. Best is nil when no radius scores above zero.
type SweepResult struct {
	Method  string       `json:"method"`
	Metric  string       `json:"metric"`
	Cluster string       `json:"cluster_method"`
	Points  []SweepPoint `json:"points"`
	Best    *SweepPoint  `json:"best,omitempty"`
}

// Radii returns from, from+step, ... up to and including to.
func Radii(from, to, step float64) []float64 {
	if step <= 0 || to < from {
		return nil
	}
	n := int(math.Floor((to-from)/step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		// Rounded to drop accumulated float error.
		out[i] = math.Round((from+float64(i)*step)*1e9) / 1e9
	}
	return out
}

// Sweep runs a range evaluation for each radius and picks the radius with
// the best mean F1 against opts.Cluster. Ties keep the smaller radius.
func Sweep(ctx context.Context, e *engine.Engine, radii []float64, opts Options) (*SweepResult, error) {
	if opts.Cluster == "" {
		return nil, fmt.Errorf("radius sweep needs a cluster method as ground truth")
	}
	if len(radii) == 0 {
		return nil, fmt.Errorf("radius sweep needs at least one radius")
	}
	for _, r := range radii {
		if !(r > 0) {
			return nil, fmt.Errorf("radius %g is not positive", r)
		}
	}

	res := &SweepResult{Cluster: opts.Cluster, Points: make([]SweepPoint, 0, len(radii))}
	best := -1
	for _, r := range radii {
		opts.Radius = r
		s, err := Run(ctx, e, opts)
		if err != nil {
			return nil, fmt.Errorf("radius %g: %w", r, err)
		}
		res.Method, res.Metric = s.Method, s.Metric
		res.Points = append(res.Points, SweepPoint{
			Radius:      r,
			Precision:   s.Precision,
			Recall:      s.Recall,
			F1:          s.F1,
			Comparisons: s.Comparisons,
		})
		log.Debug().Msgf("Radius: %.4f, Average F1: %.4f, Precision: %.4f, Recall: %.4f", r, s.F1, s.Precision, s.Recall)
		if s.F1 > 0 && (best < 0 || s.F1 > res.Points[best].F1) {
			best = len(res.Points) - 1
		}
	}
	if best >= 0 {
		p := res.Points[best]
		res.Best = &p
		log.Info().Str("cluster", opts.Cluster).Msgf("Best radius %g with average F1 %.4f", p.Radius, p.F1)
	}
	return res, nil
}
