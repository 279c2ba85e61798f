package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/idcompare/internal/facematch"
	"github.com/example/idcompare/internal/logging"
	"github.com/example/idcompare/internal/repository"
	"github.com/example/idcompare/internal/scoring"
)

const singleRecordOutput = "```python\n{'image': 'aadharcard.jpg', 'name': 'John Loyal', 'dob': '01-01-1995'}\n```"

type stubRepository struct {
	mu          sync.Mutex
	savedLogs   []*repository.ComparisonLog
	saveErr     error
	findLog     *repository.ComparisonLog
	findErr     error
	findCalls   int
	duplicates  []*repository.ComparisonLog
	dupArgs     []string
	aggregation *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.ComparisonLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.ComparisonLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepository) FindDuplicatesByHash(ctx context.Context, userID, pairHash, excludeRequestID string) ([]*repository.ComparisonLog, error) {
	s.dupArgs = []string{userID, pairHash, excludeRequestID}
	return s.duplicates, nil
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.aggregation == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.aggregation, nil
}

type stubCache struct {
	mu        sync.Mutex
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []interface{}
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubFaces struct {
	result *facematch.Result
	err    error
}

func (s *stubFaces) Compare(ctx context.Context, requestID string, imageA, imageB []byte) (*facematch.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubExtractor struct {
	outputs []string
	err     error
	images  int
}

func (s *stubExtractor) Extract(ctx context.Context, requestID string, images []Document) ([]string, error) {
	s.images = len(images)
	if s.err != nil {
		return nil, s.err
	}
	return s.outputs, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func newUseCase(repo ComparisonRepository, cache Cache, faces facematch.Client, extractor *stubExtractor) *ComparisonUseCase {
	uc := NewComparisonUseCase(repo, cache, faces, extractor, Options{Weights: scoring.DefaultWeights(), MatchThreshold: 0.7}, zap.NewNop())
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond
	return uc
}

var (
	docA = Document{Filename: "a.jpg", ContentType: "image/jpeg", Data: []byte("image-a")}
	docB = Document{Filename: "b.jpg", ContentType: "image/jpeg", Data: []byte("image-b")}
)

func TestCompareFusesFaceAndTextScores(t *testing.T) {
	cache := &stubCache{}
	repo := &stubRepository{}
	extractor := &stubExtractor{outputs: []string{singleRecordOutput}}
	uc := newUseCase(repo, cache, &stubFaces{result: &facematch.Result{Detected: true, Similarity: 0.8049}}, extractor)

	result, err := uc.Compare(context.Background(), "user-1", docA, docB)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.FaceScore != 0.8 || result.TextScore != 1.0 || result.OverallScore != 0.88 {
		t.Fatalf("unexpected scores: %+v", result)
	}
	if !result.FaceDetected || !result.RecordsParsed || !result.Matched || !result.DOBMatch {
		t.Fatalf("unexpected flags: %+v", result)
	}
	if len(result.ExtractedText) != 2 || result.ExtractedText[1].NameValue() != "John Loyal" {
		t.Fatalf("unexpected records: %+v", result.ExtractedText)
	}
	if extractor.images != 2 {
		t.Fatalf("expected both images sent for extraction, got %d", extractor.images)
	}

	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected log to be saved, got %d entries", len(repo.savedLogs))
	}
	saved := repo.savedLogs[0]
	if saved.UserID != "user-1" || saved.RequestID != result.RequestID || saved.PairHash != PairHash(docA.Data, docB.Data) {
		t.Fatalf("unexpected saved log: %+v", saved)
	}

	if len(cache.setKeys) != 2 || cache.setKeys[0] != "comparison:"+result.RequestID || cache.setKeys[1] != cache.setKeys[0] {
		t.Fatalf("unexpected cache writes: %v", cache.setKeys)
	}
	var cached cachedComparison
	if err := json.Unmarshal([]byte(cache.setValues[1].(string)), &cached); err != nil {
		t.Fatalf("cached result is not JSON: %v", err)
	}
	if cached.UserID != "user-1" || cached.Comparison.OverallScore != 0.88 {
		t.Fatalf("unexpected cached payload: %+v", cached)
	}
}

func TestCompareFailsClosedWhenSignalsAreMissing(t *testing.T) {
	repo := &stubRepository{}
	extractor := &stubExtractor{outputs: []string{"I could not read the documents."}}
	uc := newUseCase(repo, &stubCache{}, &stubFaces{err: errors.New("model offline")}, extractor)

	result, err := uc.Compare(context.Background(), "user-1", docA, docB)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.FaceScore != 0 || result.TextScore != 0 || result.OverallScore != 0 {
		t.Fatalf("expected zero scores, got %+v", result)
	}
	if result.FaceDetected || result.RecordsParsed || result.Matched {
		t.Fatalf("expected missing signals to be flagged, got %+v", result)
	}
	if result.ExtractedText == nil || len(result.ExtractedText) != 0 {
		t.Fatalf("expected empty record list, got %#v", result.ExtractedText)
	}
}

func TestCompareTreatsUndetectedFaceAsZero(t *testing.T) {
	extractor := &stubExtractor{outputs: []string{singleRecordOutput}}
	uc := newUseCase(&stubRepository{}, &stubCache{}, &stubFaces{result: &facematch.Result{Detected: false, Similarity: 0.9}}, extractor)

	result, err := uc.Compare(context.Background(), "user-1", docA, docB)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.FaceScore != 0 || result.OverallScore != 0.4 || result.FaceDetected {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCompareExtractionFailureStillScoresFace(t *testing.T) {
	extractor := &stubExtractor{err: errors.New("vision timeout")}
	uc := newUseCase(&stubRepository{}, &stubCache{}, &stubFaces{result: &facematch.Result{Detected: true, Similarity: 1}}, extractor)

	result, err := uc.Compare(context.Background(), "user-1", docA, docB)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.OverallScore != 0.6 || result.RecordsParsed {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCompareRetriesRedisSet(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	repo := &stubRepository{}
	extractor := &stubExtractor{outputs: []string{singleRecordOutput}}
	uc := newUseCase(repo, cache, &stubFaces{result: &facematch.Result{Detected: true, Similarity: 0.9}}, extractor)

	if _, err := uc.Compare(context.Background(), "user-1", docA, docB); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) < 3 {
		t.Fatalf("expected at least 3 cache set calls (retry + result), got %d", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected log to be saved, got %d entries", len(repo.savedLogs))
	}
}

func TestCompareReturnsOperationErrorOnCacheFailure(t *testing.T) {
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	repo := &stubRepository{}
	uc := newUseCase(repo, cache, &stubFaces{result: &facematch.Result{Detected: true}}, &stubExtractor{})

	_, err := uc.Compare(context.Background(), "user-1", docA, docB)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "cache.set.processing" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if len(repo.savedLogs) != 0 {
		t.Fatal("expected nothing to be persisted")
	}
}

func TestCompareReturnsOperationErrorOnSaveFailure(t *testing.T) {
	repo := &stubRepository{saveErr: errors.New("db down")}
	uc := newUseCase(repo, &stubCache{}, &stubFaces{result: &facematch.Result{Detected: true}}, &stubExtractor{})

	_, err := uc.Compare(context.Background(), "user-1", docA, docB)
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.save_log" {
		t.Fatalf("expected usecase.save_log OperationError, got %v", err)
	}
}

func TestFaceSimilarity(t *testing.T) {
	uc := newUseCase(&stubRepository{}, &stubCache{}, &stubFaces{result: &facematch.Result{Detected: true, Similarity: 0.675}}, &stubExtractor{})

	result, err := uc.FaceSimilarity(context.Background(), "user-1", docA, docB)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Score != 0.68 || !result.Detected || result.RequestID == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExtractText(t *testing.T) {
	extractor := &stubExtractor{outputs: []string{singleRecordOutput}}
	uc := newUseCase(&stubRepository{}, &stubCache{}, &stubFaces{}, extractor)

	records, err := uc.ExtractText(context.Background(), "user-1", []Document{docA})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(records) != 2 || records[0].DateOfBirthValue() != "01-01-1995" {
		t.Fatalf("unexpected records: %+v", records)
	}

	extractor.err = errors.New("vision down")
	if _, err := uc.ExtractText(context.Background(), "user-1", []Document{docA}); err == nil {
		t.Fatal("expected provider error to be returned")
	}
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	expected := &repository.ComparisonLog{
		RequestID:    "req",
		UserID:       "user",
		OverallScore: 0.88,
		Details:      `[{"name":"John Loyal","dob":"01-01-1995"},{"name":"John Loyal","dob":"01-01-1995"}]`,
	}
	repo := &stubRepository{findLog: expected}
	uc := newUseCase(repo, cache, &stubFaces{}, &stubExtractor{})

	result, err := uc.GetResult(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.RequestID != "req" || result.OverallScore != 0.88 || !result.DOBMatch || result.NameScore != 1.0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.findCalls)
	}
}

func TestGetResultPrefersCache(t *testing.T) {
	payload, _ := json.Marshal(cachedComparison{UserID: "user", Comparison: Comparison{RequestID: "req", OverallScore: 0.5}})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{}
	uc := newUseCase(repo, cache, &stubFaces{}, &stubExtractor{})

	result, err := uc.GetResult(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.OverallScore != 0.5 || repo.findCalls != 0 {
		t.Fatalf("expected cached result, got %+v (repo calls %d)", result, repo.findCalls)
	}
}

func TestGetResultIgnoresOtherUsersCache(t *testing.T) {
	payload, _ := json.Marshal(cachedComparison{UserID: "owner", Comparison: Comparison{RequestID: "req"}})
	cache := &stubCache{getValues: []string{string(payload)}}
	uc := newUseCase(&stubRepository{}, cache, &stubFaces{}, &stubExtractor{})

	_, err := uc.GetResult(context.Background(), "intruder", "req")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetResultWhileProcessingFallsBack(t *testing.T) {
	cache := &stubCache{getValues: []string{"processing"}}
	uc := newUseCase(&stubRepository{}, cache, &stubFaces{}, &stubExtractor{})

	if _, err := uc.GetResult(context.Background(), "user", "req"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetResultLogsUnreadableDetails(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	repo := &stubRepository{findLog: &repository.ComparisonLog{RequestID: "req", UserID: "user", Details: "{not json"}}
	uc := newUseCase(repo, &stubCache{getErrs: []error{redis.Nil}}, &stubFaces{}, &stubExtractor{})
	uc.logger = zap.New(core)

	result, err := uc.GetResult(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.ExtractedText == nil || len(result.ExtractedText) != 0 {
		t.Fatalf("expected empty records, got %+v", result.ExtractedText)
	}
	entries := logs.FilterMessage("stored records are unreadable").All()
	if len(entries) != 1 {
		t.Fatalf("expected one debug entry, got %d", len(entries))
	}
	if fields := entries[0].ContextMap(); fields["operation"] != "usecase.load_details" || fields["request_id"] != "req" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestGetDuplicateReport(t *testing.T) {
	repo := &stubRepository{
		findLog:    &repository.ComparisonLog{RequestID: "req", UserID: "user", PairHash: "hash"},
		duplicates: []*repository.ComparisonLog{{RequestID: "older", UserID: "user", PairHash: "hash"}},
	}
	uc := newUseCase(repo, &stubCache{}, &stubFaces{}, &stubExtractor{})

	report, err := uc.GetDuplicateReport(context.Background(), "user", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if report.Request.RequestID != "req" || len(report.Duplicates) != 1 || report.Duplicates[0].RequestID != "older" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if repo.dupArgs[0] != "user" || repo.dupArgs[1] != "hash" || repo.dupArgs[2] != "req" {
		t.Fatalf("unexpected duplicate lookup: %v", repo.dupArgs)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	repo := &stubRepository{aggregation: &repository.MetricsAggregation{TotalCount: 4, MatchedCount: 3, AverageScore: 0.75, AverageProcessingLatencyMs: 120}}
	uc := newUseCase(repo, &stubCache{}, &stubFaces{}, &stubExtractor{})

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if summary.MatchRate != 0.75 || summary.TotalComparisons != 4 || summary.MatchThreshold != 0.7 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	empty, err := newUseCase(&stubRepository{}, &stubCache{}, &stubFaces{}, &stubExtractor{}).GetMetricsSummary(context.Background())
	if err != nil || empty.MatchRate != 0 {
		t.Fatalf("expected zero match rate, got %+v (%v)", empty, err)
	}
}

func TestPairHashIsOrderIndependent(t *testing.T) {
	if PairHash([]byte("a"), []byte("b")) != PairHash([]byte("b"), []byte("a")) {
		t.Fatal("expected pair hash to ignore order")
	}
	if PairHash([]byte("a"), []byte("b")) == PairHash([]byte("a"), []byte("c")) {
		t.Fatal("expected different pairs to hash differently")
	}
}
