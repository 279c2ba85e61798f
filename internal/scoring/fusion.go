package scoring

import (
	"math"

	"go.uber.org/zap"
)

// Weights controls how face and text similarity contribute to the overall
// score. They are not required to sum to one.
type Weights struct {
	Face float64 `toml:"face" json:"face_weight"`
	Text float64 `toml:"text" json:"text_weight"`
}

// DefaultWeights favours the face signal.
func DefaultWeights() Weights {
	return Weights{Face: 0.6, Text: 0.4}
}

// Fuser combines face and text scores into the overall score.
type Fuser struct {
	weights Weights
	logger  *zap.Logger
}

// NewFuser constructs a fuser using weights for every call to Fuse.
func NewFuser(weights Weights, logger *zap.Logger) *Fuser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fuser{weights: weights, logger: logger.Named("score_fusion")}
}

// Weights returns the configured weights.
func (f *Fuser) Weights() Weights {
	return f.weights
}

// Fuse applies the configured weights.
func (f *Fuser) Fuse(face, text float64) float64 {
	return f.FuseWith(face, text, f.weights)
}

// FuseWith returns round(face*w.Face + text*w.Text, 2). Inputs are not
// clamped, so out of range scores produce out of range results. Non-finite
// values yield 0.
func (f *Fuser) FuseWith(face, text float64, w Weights) float64 {
	score := face*w.Face + text*w.Text
	if math.IsNaN(score) || math.IsInf(score, 0) {
		f.logger.Error("non-finite fused score",
			zap.Float64("face_score", face),
			zap.Float64("text_score", text),
			zap.Float64("face_weight", w.Face),
			zap.Float64("text_weight", w.Text),
		)
		return 0.0
	}
	return Round2(score)
}
