package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/idcompare/internal/extraction"
	"github.com/example/idcompare/internal/facematch"
	"github.com/example/idcompare/internal/identity"
	"github.com/example/idcompare/internal/logging"
	"github.com/example/idcompare/internal/repository"
	"github.com/example/idcompare/internal/scoring"
	"github.com/example/idcompare/internal/vision"
)

// ErrNotFound is returned when a comparison does not exist for the caller.
var ErrNotFound = repository.ErrNotFound

// ComparisonRepository defines the persistence operations needed by the use case.
type ComparisonRepository interface {
	SaveLog(ctx context.Context, log *repository.ComparisonLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.ComparisonLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, pairHash, excludeRequestID string) ([]*repository.ComparisonLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Document is an uploaded identity document image.
type Document = vision.Image

// Comparison is the outcome of comparing two identity documents.
// FaceDetected and RecordsParsed tell a missing signal apart from a genuine
// zero similarity.
type Comparison struct {
	RequestID     string            `json:"request_id"`
	FaceScore     float64           `json:"face_score"`
	TextScore     float64           `json:"text_score"`
	OverallScore  float64           `json:"overall_score"`
	NameScore     float64           `json:"name_score"`
	DOBMatch      bool              `json:"dob_match"`
	FaceDetected  bool              `json:"face_detected"`
	RecordsParsed bool              `json:"records_parsed"`
	Matched       bool              `json:"matched"`
	ExtractedText []identity.Record `json:"extracted_text"`
	CreatedAt     time.Time         `json:"created_at"`
}

// FaceComparison is the outcome of a face-only comparison.
type FaceComparison struct {
	RequestID string  `json:"request_id"`
	Score     float64 `json:"similarity_score"`
	Detected  bool    `json:"face_detected"`
}

// DuplicateReport lists earlier comparisons of the same image pair.
type DuplicateReport struct {
	Request    *Comparison   `json:"request"`
	Duplicates []*Comparison `json:"duplicates"`
}

// Options tunes scoring.
type Options struct {
	Weights        scoring.Weights
	MatchThreshold float64
}

// ComparisonUseCase encapsulates business logic for the comparison flow.
type ComparisonUseCase struct {
	repo           ComparisonRepository
	cache          Cache
	faces          facematch.Client
	extractor      vision.Extractor
	parser         *extraction.Parser
	scorer         *scoring.TextScorer
	fuser          *scoring.Fuser
	threshold      float64
	logger         *zap.Logger
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedComparison struct {
	UserID     string     `json:"user_id"`
	PairHash   string     `json:"pair_hash"`
	Comparison Comparison `json:"comparison"`
}

// NewComparisonUseCase constructs a new use case instance.
func NewComparisonUseCase(repo ComparisonRepository, cache Cache, faces facematch.Client, extractor vision.Extractor, opts Options, logger *zap.Logger) *ComparisonUseCase {
	return &ComparisonUseCase{
		repo:           repo,
		cache:          cache,
		faces:          faces,
		extractor:      extractor,
		parser:         extraction.NewParser(logger),
		scorer:         scoring.NewTextScorer(logger),
		fuser:          scoring.NewFuser(opts.Weights, logger),
		threshold:      opts.MatchThreshold,
		logger:         logger.Named("comparison_usecase"),
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Compare scores two documents on face and text similarity, then persists
// and caches the result.
func (uc *ComparisonUseCase) Compare(ctx context.Context, userID string, docA, docB Document) (*Comparison, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.compare", requestID)
	start := uc.now()

	cacheKey := resultCacheKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	var (
		face    float64
		found   bool
		records []identity.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		face, found = uc.faceScore(gctx, requestID, docA.Data, docB.Data)
		return nil
	})
	g.Go(func() error {
		records = uc.extractRecords(gctx, requestID, []Document{docA, docB})
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, logging.NewOperationError("usecase.compare", requestID, err)
	}

	fields, parsed := uc.scorer.Breakdown(records)
	overall := uc.fuser.Fuse(face, fields.Text)
	createdAt := uc.now().UTC()

	result := &Comparison{
		RequestID:     requestID,
		FaceScore:     face,
		TextScore:     fields.Text,
		OverallScore:  overall,
		NameScore:     fields.Name,
		DOBMatch:      fields.DOBMatch,
		FaceDetected:  found,
		RecordsParsed: parsed,
		Matched:       overall >= uc.threshold,
		ExtractedText: records,
		CreatedAt:     createdAt,
	}

	details, err := json.Marshal(records)
	if err != nil {
		opLogger.Error("failed to serialize extracted records", zap.Error(err))
		return nil, err
	}
	pairHash := PairHash(docA.Data, docB.Data)
	log := &repository.ComparisonLog{
		RequestID:     requestID,
		UserID:        userID,
		PairHash:      pairHash,
		FaceScore:     result.FaceScore,
		TextScore:     result.TextScore,
		OverallScore:  result.OverallScore,
		FaceDetected:  result.FaceDetected,
		RecordsParsed: result.RecordsParsed,
		Matched:       result.Matched,
		Details:       string(details),
		LatencyMs:     uc.now().Sub(start).Milliseconds(),
		CreatedAt:     createdAt,
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist comparison log", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(cachedComparison{UserID: userID, PairHash: pairHash, Comparison: *result})
	if err != nil {
		opLogger.Error("failed to serialize comparison result", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache comparison result", zap.Error(err))
		return nil, err
	}

	opLogger.Info("comparison complete",
		zap.Float64("face_score", result.FaceScore),
		zap.Float64("text_score", result.TextScore),
		zap.Float64("overall_score", result.OverallScore),
		zap.Bool("face_detected", result.FaceDetected),
		zap.Bool("records_parsed", result.RecordsParsed),
		zap.Int64("latency_ms", log.LatencyMs),
	)
	return result, nil
}

// FaceSimilarity compares the faces on two documents only.
func (uc *ComparisonUseCase) FaceSimilarity(ctx context.Context, userID string, docA, docB Document) (*FaceComparison, error) {
	requestID := uuid.NewString()
	score, found := uc.faceScore(ctx, requestID, docA.Data, docB.Data)
	if err := ctx.Err(); err != nil {
		return nil, logging.NewOperationError("usecase.face_similarity", requestID, err)
	}
	logging.WithOperation(uc.logger, "usecase.face_similarity", requestID).Debug("face similarity computed",
		zap.String("user_id", userID), zap.Float64("score", score), zap.Bool("detected", found))
	return &FaceComparison{RequestID: requestID, Score: score, Detected: found}, nil
}

// ExtractText returns the records the vision model reads from docs. Provider
// failures are returned; unparseable output yields no records.
func (uc *ComparisonUseCase) ExtractText(ctx context.Context, userID string, docs []Document) ([]identity.Record, error) {
	requestID := uuid.NewString()
	outputs, err := uc.extractor.Extract(ctx, requestID, docs)
	if err != nil {
		return nil, err
	}
	records := uc.parser.Parse(outputs)
	logging.WithOperation(uc.logger, "usecase.extract_text", requestID).Debug("text extracted",
		zap.String("user_id", userID), zap.Int("records", len(records)))
	return records, nil
}

// GetResult retrieves a cached comparison or loads it from persistence.
func (uc *ComparisonUseCase) GetResult(ctx context.Context, userID, requestID string) (*Comparison, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultCacheKey(requestID)); err == nil {
		var payload cachedComparison
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			// Still processing, or written by an incompatible version.
			opLogger.Debug("cached value is not a result", zap.Error(err))
		} else if payload.UserID == userID {
			return &payload.Comparison, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}
	return uc.comparisonFromLog(log), nil
}

// GetDuplicateReport finds the caller's other comparisons of the same image pair.
func (uc *ComparisonUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.PairHash, log.RequestID)
	if err != nil {
		return nil, err
	}

	report := &DuplicateReport{
		Request:    uc.comparisonFromLog(log),
		Duplicates: make([]*Comparison, 0, len(duplicates)),
	}
	for _, dup := range duplicates {
		report.Duplicates = append(report.Duplicates, uc.comparisonFromLog(dup))
	}
	return report, nil
}

// faceScore returns the rounded face similarity and whether both faces were
// found. Provider failures score zero.
func (uc *ComparisonUseCase) faceScore(ctx context.Context, requestID string, imageA, imageB []byte) (float64, bool) {
	opLogger := logging.WithOperation(uc.logger, "usecase.face_score", requestID)
	result, err := uc.faces.Compare(ctx, requestID, imageA, imageB)
	if err != nil {
		opLogger.Error("error computing face similarity", logging.ErrorFields(err)...)
		return 0.0, false
	}
	if !result.Detected {
		opLogger.Warn("face not detected in one or both images", zap.String("message", result.Message))
		return 0.0, false
	}
	return scoring.Round2(result.Similarity), true
}

func (uc *ComparisonUseCase) extractRecords(ctx context.Context, requestID string, docs []Document) []identity.Record {
	outputs, err := uc.extractor.Extract(ctx, requestID, docs)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.extract_records", requestID).Error("text extraction failed", logging.ErrorFields(err)...)
		return []identity.Record{}
	}
	return uc.parser.Parse(outputs)
}

func (uc *ComparisonUseCase) comparisonFromLog(log *repository.ComparisonLog) *Comparison {
	records := []identity.Record{}
	if log.Details != "" {
		if err := json.Unmarshal([]byte(log.Details), &records); err != nil {
			logging.WithOperation(uc.logger, "usecase.load_details", log.RequestID).Debug("stored records are unreadable", zap.Error(err))
			records = []identity.Record{}
		}
	}
	c := &Comparison{
		RequestID:     log.RequestID,
		FaceScore:     log.FaceScore,
		TextScore:     log.TextScore,
		OverallScore:  log.OverallScore,
		FaceDetected:  log.FaceDetected,
		RecordsParsed: log.RecordsParsed,
		Matched:       log.Matched,
		ExtractedText: records,
		CreatedAt:     log.CreatedAt,
	}
	if len(records) == identity.PairSize {
		fields, _ := scoring.NewTextScorer(nil).Breakdown(records)
		c.NameScore = fields.Name
		c.DOBMatch = fields.DOBMatch
	}
	return c
}

// PairHash identifies an unordered pair of images.
func PairHash(imageA, imageB []byte) string {
	a, b := sha1.Sum(imageA), sha1.Sum(imageB)
	hashes := []string{hex.EncodeToString(a[:]), hex.EncodeToString(b[:])}
	sort.Strings(hashes)
	sum := sha1.Sum([]byte(hashes[0] + hashes[1]))
	return hex.EncodeToString(sum[:])
}
