package scoring

import (
	"go.uber.org/zap"

	"github.com/example/idcompare/internal/identity"
)

// FieldScores is the per-field view of a text comparison.
type FieldScores struct {
	Name     float64 `json:"name_score"`
	DOBMatch bool    `json:"dob_match"`
	Text     float64 `json:"text_score"`
}

// TextScorer compares the name and date of birth of two records.
type TextScorer struct {
	logger *zap.Logger
}

// NewTextScorer constructs a scorer that logs rejected pairs to logger.
func NewTextScorer(logger *zap.Logger) *TextScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextScorer{logger: logger.Named("text_scorer")}
}

// Score returns the averaged name and date of birth similarity, or 0 when
// records is not a pair.
func (s *TextScorer) Score(records []identity.Record) float64 {
	scores, _ := s.Breakdown(records)
	return scores.Text
}

// Breakdown scores each field. ok is false when records is not a pair, in
// which case every score is zero.
func (s *TextScorer) Breakdown(records []identity.Record) (scores FieldScores, ok bool) {
	if len(records) != identity.PairSize {
		s.logger.Warn("text similarity needs exactly two records", zap.Int("records", len(records)))
		return FieldScores{}, false
	}
	a, b := records[0], records[1]

	nameA, nameB := a.NameValue(), b.NameValue()
	nameScore := 0.0
	if nameA != "" && nameB != "" {
		// The ratio depends on argument order; a fixed order keeps the
		// score independent of which document came first.
		if nameB < nameA {
			nameA, nameB = nameB, nameA
		}
		nameScore = SequenceRatio(nameA, nameB)
	}

	dobA, dobB := a.DateOfBirthValue(), b.DateOfBirthValue()
	dobScore := 0.0
	if dobA != "" && dobA == dobB {
		dobScore = 1.0
	}

	return FieldScores{
		Name:     Round2(nameScore),
		DOBMatch: dobScore == 1.0,
		Text:     Round2((nameScore + dobScore) / 2),
	}, true
}
