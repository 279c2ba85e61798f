package extraction

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/example/idcompare/internal/identity"
	"github.com/example/idcompare/internal/literal"
)

var fencedBlock = regexp.MustCompile("(?s)```python\n(.*?)\n```")

// Failures reported by ParseRecords. Parse logs them and returns no records.
var (
	ErrNoFencedBlock   = errors.New("no fenced python block in model output")
	ErrUnexpectedShape = errors.New("literal is neither a mapping nor a pair of mappings")
)

// Parser turns raw vision model output into a pair of identity records.
type Parser struct {
	logger *zap.Logger
}

// NewParser constructs a parser that reports failures to logger.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger.Named("record_parser")}
}

// Parse returns exactly two records, or none when the output cannot be
// normalized into a pair.
func (p *Parser) Parse(outputs []string) []identity.Record {
	records, err := ParseRecords(outputs)
	if err != nil {
		p.logger.Warn("failed to parse extracted records", zap.Error(err))
		return []identity.Record{}
	}
	return records
}

// ParseRecords is Parse with the failure reason exposed.
func ParseRecords(outputs []string) ([]identity.Record, error) {
	text := strings.Join(outputs, " ")
	match := fencedBlock.FindStringSubmatch(text)
	if match == nil {
		return nil, ErrNoFencedBlock
	}

	value, err := literal.Parse(strings.TrimSpace(match[1]))
	if err != nil {
		return nil, fmt.Errorf("parse fenced literal: %w", err)
	}

	switch v := value.(type) {
	case map[any]any:
		// Some models answer with a single record for both images.
		record := toRecord(v)
		return []identity.Record{record, record.Clone()}, nil
	case []any:
		return pairFromSequence(v)
	case literal.Tuple:
		return pairFromSequence(v)
	default:
		return nil, fmt.Errorf("%w: got %T", ErrUnexpectedShape, value)
	}
}

func pairFromSequence(items []any) ([]identity.Record, error) {
	if len(items) != identity.PairSize {
		return nil, fmt.Errorf("%w: sequence of %d items", ErrUnexpectedShape, len(items))
	}
	records := make([]identity.Record, 0, identity.PairSize)
	for i, item := range items {
		m, ok := item.(map[any]any)
		if !ok {
			return nil, fmt.Errorf("%w: item %d is %T", ErrUnexpectedShape, i, item)
		}
		records = append(records, toRecord(m))
	}
	return records, nil
}

func toRecord(m map[any]any) identity.Record {
	return identity.Record{
		Image:       stringField(m, "image"),
		Name:        stringField(m, "name"),
		DateOfBirth: stringField(m, "dob"),
	}
}

func stringField(m map[any]any, key string) *string {
	s, ok := m[key].(string)
	if !ok {
		return nil
	}
	return &s
}
