package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/id-verify/internal/consistency"
	"github.com/example/id-verify/internal/document"
	"github.com/example/id-verify/internal/extractor"
	"github.com/example/id-verify/internal/facematch"
	"github.com/example/id-verify/internal/imaging"
	"github.com/example/id-verify/internal/logging"
	"github.com/example/id-verify/internal/metrics"
	"github.com/example/id-verify/internal/repository"
	"github.com/example/id-verify/internal/task"
	"github.com/example/id-verify/internal/verdict"
)

var (
	// ErrInvalidInput marks a submit request rejected before task creation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTaskNotFound marks a poll for an unknown or expired task.
	ErrTaskNotFound = errors.New("task not found")
)

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveRecord(ctx context.Context, rec *repository.VerificationRecord) error
	FindByTaskID(ctx context.Context, taskID string) (*repository.VerificationRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// SubmitRequest carries the four image slots of a verification request.
type SubmitRequest struct {
	IDCardFront imaging.Input
	IDCardBack  imaging.Input
	HealthCard  imaging.Input
	Selfie      imaging.Input
}

// PollResult is the outcome of a poll: the verdict once the task is terminal,
// otherwise just the lifecycle status.
type PollResult struct {
	Status task.Status
	Result *verdict.Result
}

// VerificationUseCase orchestrates the verification pipeline: task creation,
// stage fan-out, result aggregation, and the polling contract.
type VerificationUseCase struct {
	store          *task.Store
	ingestor       *imaging.Ingestor
	extractor      extractor.Client
	faces          facematch.Client
	cache          Cache
	repo           VerificationRepository
	logger         *zap.Logger
	thresholds     verdict.Thresholds
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	cacheTTL       time.Duration
}

// Options tunes the orchestration engine.
type Options struct {
	Thresholds     verdict.Thresholds
	RetryAttempts  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CacheTTL       time.Duration
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(
	store *task.Store,
	ingestor *imaging.Ingestor,
	ext extractor.Client,
	faces facematch.Client,
	cache Cache,
	repo VerificationRepository,
	logger *zap.Logger,
	opts Options,
) *VerificationUseCase {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 2
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 2 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	return &VerificationUseCase{
		store:          store,
		ingestor:       ingestor,
		extractor:      ext,
		faces:          faces,
		cache:          cache,
		repo:           repo,
		logger:         logger.Named("verification_usecase"),
		thresholds:     opts.Thresholds,
		retryAttempts:  opts.RetryAttempts,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		cacheTTL:       opts.CacheTTL,
	}
}

// Submit validates and decodes all four images, creates a pending task, and
// launches the pipeline in the background. It returns the task identifier
// without blocking on any stage; if any image is invalid no task is created.
func (uc *VerificationUseCase) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	slots := []struct {
		name  string
		input imaging.Input
	}{
		{string(document.TypeIDCardFront), req.IDCardFront},
		{string(document.TypeIDCardBack), req.IDCardBack},
		{string(document.TypeHealthCard), req.HealthCard},
		{string(document.TypeSelfie), req.Selfie},
	}

	decoded := make([][]byte, len(slots))
	for i, slot := range slots {
		img, err := uc.ingestor.Ingest(ctx, slot.name, slot.input)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidInput, err)
		}
		decoded[i] = img.Bytes
	}

	t := task.New(&task.SubmittedImages{
		IDCardFront: decoded[0],
		IDCardBack:  decoded[1],
		HealthCard:  decoded[2],
		Selfie:      decoded[3],
	})
	if err := uc.store.Create(t); err != nil {
		return "", logging.NewOperationError("usecase.create_task", t.ID, err)
	}

	metrics.TasksSubmitted.Inc()
	logging.WithOperation(uc.logger, "usecase.submit", t.ID).Info("verification task created")

	go uc.run(t.ID, t.Images)

	return t.ID, nil
}

// Poll returns the task's verdict if it is terminal, otherwise a status-only
// answer. On a store miss it falls back to the Redis verdict cache, then to
// the persisted record, so completed verdicts survive eviction.
func (uc *VerificationUseCase) Poll(ctx context.Context, taskID string) (*PollResult, error) {
	if t, ok := uc.store.Get(taskID); ok {
		out := &PollResult{Status: t.Status}
		if t.Status.Terminal() {
			out.Result = t.FinalResult
		}
		return out, nil
	}

	if cached, err := uc.cache.Get(ctx, verdictCacheKey(taskID)); err == nil {
		var res verdict.Result
		if err := json.Unmarshal([]byte(cached), &res); err != nil {
			logging.WithOperation(uc.logger, "usecase.poll", taskID).Warn("failed to decode cached verdict", zap.Error(err))
		} else {
			return &PollResult{Status: task.StatusCompleted, Result: &res}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.poll", taskID).Warn("failed to read verdict cache", zap.Error(err))
	}

	rec, err := uc.repo.FindByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		// A repository outage must not masquerade as an unknown task.
		return nil, logging.NewOperationError("usecase.poll", taskID, err)
	}
	res, err := rec.DecodeVerdict()
	if err != nil {
		return nil, logging.NewOperationError("usecase.poll", taskID, err)
	}
	return &PollResult{Status: task.StatusCompleted, Result: res}, nil
}

// run executes the pipeline for one task: stage fan-out, the consistency
// join, aggregation, and publication. Stages coordinate with each other only
// through the task store.
func (uc *VerificationUseCase) run(taskID string, images *task.SubmittedImages) {
	ctx := context.Background()
	opLogger := logging.WithOperation(uc.logger, "usecase.run", taskID)
	start := time.Now()

	defer uc.recoverStageFault(taskID, opLogger)

	if err := uc.store.SetStatus(taskID, task.StatusRunning); err != nil {
		opLogger.Error("task vanished before start", zap.Error(err))
		return
	}

	var (
		stageWg sync.WaitGroup // all five logical stages
		idWg    sync.WaitGroup // the two stages feeding the consistency check
	)

	extractions := []struct {
		key   verdict.StageKey
		doc   document.Type
		image []byte
	}{
		{verdict.StageIDCard, document.TypeIDCardFront, images.IDCardFront},
		{verdict.StageIDCardBack, document.TypeIDCardBack, images.IDCardBack},
		{verdict.StageHealthCard, document.TypeHealthCard, images.HealthCard},
	}
	for _, e := range extractions {
		isIDStage := e.key == verdict.StageIDCard || e.key == verdict.StageIDCardBack
		stageWg.Add(1)
		if isIDStage {
			idWg.Add(1)
		}
		go func(key verdict.StageKey, doc document.Type, image []byte, isIDStage bool) {
			defer stageWg.Done()
			if isIDStage {
				defer idWg.Done()
			}
			defer uc.recoverStageFault(taskID, logging.WithStage(uc.logger, taskID, string(key)))
			uc.runExtractionStage(ctx, taskID, key, doc, image)
		}(e.key, e.doc, e.image, isIDStage)
	}

	stageWg.Add(1)
	go func() {
		defer stageWg.Done()
		defer uc.recoverStageFault(taskID, logging.WithStage(uc.logger, taskID, string(verdict.StageFace)))
		uc.runFaceStage(ctx, taskID, images.IDCardFront, images.Selfie)
	}()

	// The consistency stage is gated behind the two ID stages.
	stageWg.Add(1)
	go func() {
		defer stageWg.Done()
		defer uc.recoverStageFault(taskID, logging.WithStage(uc.logger, taskID, string(verdict.StageInfoConsistency)))
		idWg.Wait()
		uc.runConsistencyStage(taskID)
	}()

	stageWg.Wait()

	snapshot, ok := uc.store.Get(taskID)
	if !ok {
		opLogger.Warn("task evicted before aggregation")
		return
	}
	if snapshot.Status.Terminal() {
		// A stage fault already finalized the task as failed.
		opLogger.Warn("skipping aggregation for a faulted task")
		return
	}

	result := verdict.Aggregate(snapshot.StageResults, uc.thresholds)
	if err := uc.store.SetFinalResult(taskID, result, task.StatusCompleted); err != nil {
		opLogger.Error("failed to publish final result", zap.Error(err))
		return
	}

	metrics.TasksFinished.WithLabelValues(verdictLabel(result.Valid)).Inc()
	opLogger.Info("verification task completed",
		zap.Bool("is_valid", result.Valid),
		zap.Duration("elapsed", time.Since(start)))

	uc.publish(ctx, taskID, result, time.Since(start))
}

// recoverStageFault converts a panic in the calling goroutine into a failed
// task. Every stage goroutine and the run loop itself defer it, so a fault
// anywhere in the pipeline strands neither the task nor the process. A failed
// task carries no verdict body, only the status.
func (uc *VerificationUseCase) recoverStageFault(taskID string, opLogger *zap.Logger) {
	if r := recover(); r != nil {
		opLogger.Error("orchestration panic", zap.Any("panic", r))
		_ = uc.store.SetFinalResult(taskID, nil, task.StatusFailed)
		metrics.TasksFinished.WithLabelValues("failed").Inc()
	}
}

// publish caches and persists a completed verdict. Both writes are
// best-effort: the verdict is already readable from the store.
func (uc *VerificationUseCase) publish(ctx context.Context, taskID string, result *verdict.Result, elapsed time.Duration) {
	opLogger := logging.WithOperation(uc.logger, "usecase.publish", taskID)

	serialized, err := json.Marshal(result)
	if err != nil {
		opLogger.Error("failed to serialize verdict", zap.Error(err))
		return
	}

	if err := uc.withRetry(ctx, taskID, "cache.set.verdict", func() error {
		return uc.cache.Set(ctx, verdictCacheKey(taskID), string(serialized), uc.cacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache verdict", zap.Error(err))
	}

	rec := &repository.VerificationRecord{
		TaskID:       taskID,
		IsValid:      result.Valid,
		ErrMsg:       result.ErrMsg,
		CardScore:    result.FaceValidation.CardScore,
		PersonScore:  result.FaceValidation.PersonScore,
		Verdict:      string(serialized),
		ProcessingMs: elapsed.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.repo.SaveRecord(ctx, rec); err != nil {
		opLogger.Warn("failed to persist verification record", zap.Error(err))
	}
}

func (uc *VerificationUseCase) runExtractionStage(ctx context.Context, taskID string, key verdict.StageKey, doc document.Type, image []byte) {
	start := time.Now()
	opLogger := logging.WithStage(uc.logger, taskID, string(key))

	var ext *document.Extraction
	err := uc.withRetry(ctx, taskID, "stage."+string(key), func() error {
		var err error
		ext, err = uc.extractor.Extract(ctx, image, doc)
		return err
	})

	var res verdict.StageResult
	if err != nil {
		res = verdict.StageResult{
			Valid:   false,
			Message: fmt.Sprintf("document extraction unavailable: %v", err),
		}
		opLogger.Error("extraction stage exhausted retries", zap.Error(err))
	} else {
		res = verdict.StageResult{
			Valid:      ext.Valid,
			Message:    ext.Message,
			Extraction: ext,
		}
	}

	uc.recordStage(taskID, key, res, opLogger)
	metrics.ObserveStage(string(key), res.Valid, time.Since(start))
}

func (uc *VerificationUseCase) runFaceStage(ctx context.Context, taskID string, idCard, selfie []byte) {
	start := time.Now()
	key := verdict.StageFace
	opLogger := logging.WithStage(uc.logger, taskID, string(key))

	res := uc.compareFaces(ctx, taskID, idCard, selfie, opLogger)
	uc.recordStage(taskID, key, res, opLogger)
	metrics.ObserveStage(string(key), res.Valid, time.Since(start))
}

// compareFaces detects the faces on the ID card (expected: exactly one) and
// in the selfie (expected: two, the held card plus the person), compares the
// card face against both selfie faces, and orders the two scores descending:
// the higher one is card-vs-card, the lower card-vs-person.
func (uc *VerificationUseCase) compareFaces(ctx context.Context, taskID string, idCard, selfie []byte, opLogger *zap.Logger) verdict.StageResult {
	var cardFaces, selfieFaces []facematch.Face

	err := uc.withRetry(ctx, taskID, "face.detect.id_card", func() error {
		var err error
		cardFaces, err = uc.faces.Detect(ctx, idCard)
		return err
	})
	if err == nil {
		err = uc.withRetry(ctx, taskID, "face.detect.selfie", func() error {
			var err error
			selfieFaces, err = uc.faces.Detect(ctx, selfie)
			return err
		})
	}
	if err != nil {
		opLogger.Error("face detection exhausted retries", zap.Error(err))
		return verdict.StageResult{
			Valid:   false,
			Message: fmt.Sprintf("face detection unavailable: %v", err),
			Face:    &verdict.FaceScores{},
		}
	}

	if len(cardFaces) != 1 || len(selfieFaces) != 2 {
		return verdict.StageResult{
			Valid: false,
			Message: fmt.Sprintf("expected 1 face on the id card and 2 in the selfie, got %d and %d",
				len(cardFaces), len(selfieFaces)),
			Face: &verdict.FaceScores{},
		}
	}

	scores := make([]float64, 0, 2)
	for _, face := range selfieFaces {
		var score float64
		err := uc.withRetry(ctx, taskID, "face.compare", func() error {
			var err error
			score, err = uc.faces.Compare(ctx, cardFaces[0].Token, face.Token)
			return err
		})
		if err != nil {
			opLogger.Error("face comparison exhausted retries", zap.Error(err))
			return verdict.StageResult{
				Valid:   false,
				Message: fmt.Sprintf("face comparison unavailable: %v", err),
				Face:    &verdict.FaceScores{},
			}
		}
		scores = append(scores, score)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	return verdict.StageResult{
		Valid: true,
		Face: &verdict.FaceScores{
			CardScore:   scores[0],
			PersonScore: scores[1],
		},
	}
}

func (uc *VerificationUseCase) runConsistencyStage(taskID string) {
	start := time.Now()
	key := verdict.StageInfoConsistency
	opLogger := logging.WithStage(uc.logger, taskID, string(key))

	snapshot, ok := uc.store.Get(taskID)
	if !ok {
		opLogger.Warn("task evicted before consistency check")
		return
	}

	front := snapshot.StageResults[verdict.StageIDCard]
	back := snapshot.StageResults[verdict.StageIDCardBack]
	check := consistency.Check(front.Extraction, back.Extraction)

	res := verdict.StageResult{
		Valid:       check.Valid,
		Message:     check.Message,
		Consistency: &check,
	}
	uc.recordStage(taskID, key, res, opLogger)
	metrics.ObserveStage(string(key), res.Valid, time.Since(start))
}

func (uc *VerificationUseCase) recordStage(taskID string, key verdict.StageKey, res verdict.StageResult, opLogger *zap.Logger) {
	if err := uc.store.PutStageResult(taskID, key, res); err != nil {
		opLogger.Warn("stage result dropped", zap.Error(err))
		return
	}
	opLogger.Debug("stage recorded", zap.Bool("is_valid", res.Valid))
}

// withRetry runs fn with bounded exponential backoff, retrying only errors
// classified as transient. The final error is returned wrapped with the
// operation context.
func (uc *VerificationUseCase) withRetry(ctx context.Context, taskID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, taskID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, taskID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, taskID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
				metrics.StageRetries.WithLabelValues(operation).Add(float64(attempt))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, taskID, err)
		}

		opLogger.Warn("transient collaborator error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, taskID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

func verdictLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
