package blankquiz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxQuestions caps the number of questions one quiz may request.
const MaxQuestions = 200

const (
	defaultBatchSize = 5
	maxBatchSize     = 10
	defaultMaxRounds = 20
)

// ErrNoProgress is returned when generation gives up before reaching the
// requested number of questions.
var ErrNoProgress = errors.New("quiz generation made no progress")

// QuizGenerator orchestrates the generation and review of questions
type QuizGenerator struct {
	maker   *QuestionMaker
	checker *QuestionChecker
	dedup   *QuestionDedup
	pool    *QuestionPool

	// MaxRounds bounds the number of consecutive rounds that accept
	// nothing before generation gives up.
	MaxRounds int
}

// NewQuizGenerator creates a new quiz generator
func NewQuizGenerator(apiKey string) *QuizGenerator {
	return NewQuizGeneratorWithClient(NewOpenAIClient(apiKey, ""), DefaultModel)
}

// NewQuizGeneratorWithClient creates a quiz generator on an existing client
func NewQuizGeneratorWithClient(client ChatCompleter, model string) *QuizGenerator {
	return &QuizGenerator{
		maker:     NewQuestionMakerWithClient(client, model),
		checker:   NewQuestionCheckerWithClient(client, model),
		dedup:     NewQuestionDedupWithClient(client, model),
		pool:      NewQuestionPool(),
		MaxRounds: defaultMaxRounds,
	}
}

// SetLogger sets the transcript logger on every stage
func (qg *QuizGenerator) SetLogger(logger *LLMLogger) {
	qg.maker.SetLogger(logger)
	qg.checker.SetLogger(logger)
	qg.dedup.SetLogger(logger)
}

// GenerateQuiz generates a complete quiz with the specified number of questions
func (qg *QuizGenerator) GenerateQuiz(ctx context.Context, req GenerationRequest) (*Quiz, error) {
	quiz := &Quiz{
		ID:           uuid.NewString(),
		Title:        req.Topic,
		Topic:        req.Topic,
		NumQuestions: req.NumQuestions,
		Difficulty:   req.Difficulty,
		CreatedAt:    time.Now(),
	}

	err := qg.Run(ctx, req, func(q *Question) bool {
		q.QuizID = quiz.ID
		quiz.Questions = append(quiz.Questions, *q)
		return true
	})
	if err != nil {
		return nil, err
	}

	quiz.Status = QuizReady
	Logger().Infow("quiz generation complete", "questions", len(quiz.Questions), "topic", quiz.Topic)
	return quiz, nil
}

// GenerateQuizStream streams accepted questions as they are found. The
// channel is closed when the quiz is complete, ctx is done, or generation
// fails; failures are logged.
func (qg *QuizGenerator) GenerateQuizStream(ctx context.Context, req GenerationRequest) (<-chan *Question, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	out := make(chan *Question)
	go func() {
		defer close(out)
		err := qg.Run(ctx, req, func(q *Question) bool {
			select {
			case out <- q:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil {
			Logger().Errorw("quiz stream stopped", "topic", req.Topic, "error", err)
		}
	}()
	return out, nil
}

// Run generates questions until req.NumQuestions have been accepted,
// calling emit for each. Returning false from emit stops generation.
func (qg *QuizGenerator) Run(ctx context.Context, req GenerationRequest, emit func(*Question) bool) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	Logger().Infow("starting quiz generation", "topic", req.Topic, "target", req.NumQuestions)

	accepted := 0
	idle := 0
	batchSize := defaultBatchSize

	for accepted < req.NumQuestions {
		if qg.MaxRounds > 0 && idle >= qg.MaxRounds {
			qg.discardPool()
			return fmt.Errorf("%w: %d of %d questions after %d idle rounds", ErrNoProgress, accepted, req.NumQuestions, idle)
		}
		if err := ctx.Err(); err != nil {
			qg.discardPool()
			return err
		}

		if qg.pool.IsEmpty() {
			questions, err := qg.maker.GenerateQuestions(ctx, req, batchSize)
			if err != nil {
				return fmt.Errorf("failed to generate questions: %w", err)
			}
			for _, question := range questions {
				qg.pool.Add(question)
			}
		}

		processed := qg.processPool(ctx)
		for _, q := range processed.accepted {
			if accepted == req.NumQuestions {
				break
			}
			if !emit(q) {
				return ctx.Err()
			}
			accepted++
		}

		Logger().Infow("processed questions",
			"accepted", len(processed.accepted),
			"rejected", len(processed.rejected),
			"revised", len(processed.revised),
		)

		if len(processed.accepted) > 0 {
			idle = 0
		} else {
			idle++
		}
		if len(processed.accepted) == 0 && len(processed.rejected) > 0 {
			batchSize = min(batchSize+2, maxBatchSize)
			Logger().Infow("no questions accepted, increasing batch size", "batch_size", batchSize)
		}
	}
	return nil
}

// discardPool empties the pool when generation gives up, so a reused
// generator starts from fresh drafts.
func (qg *QuizGenerator) discardPool() {
	for _, q := range qg.pool.GetAll() {
		VerboseLog("discarding unchecked question", "question_id", q.ID, "revision_count", q.RevisionCount)
		qg.pool.Remove(q.ID)
	}
}

func validateRequest(req GenerationRequest) error {
	if req.Topic == "" {
		return errors.New("topic is required")
	}
	if req.NumQuestions <= 0 {
		return fmt.Errorf("number of questions must be positive, got %d", req.NumQuestions)
	}
	if req.NumQuestions > MaxQuestions {
		return fmt.Errorf("number of questions must be at most %d, got %d", MaxQuestions, req.NumQuestions)
	}
	return nil
}

// processResult holds the results of processing questions from the pool
type processResult struct {
	accepted []*Question
	rejected []*Question
	revised  []*Question
}

// processPool reviews every question currently in the pool. Revisions go
// back into the pool and are reviewed again in the same pass. Accepted
// questions keep their pending/revised status for human review.
func (qg *QuizGenerator) processPool(ctx context.Context) processResult {
	result := processResult{}

	for !qg.pool.IsEmpty() {
		if ctx.Err() != nil {
			break
		}
		question := qg.pool.Get()
		if question == nil {
			break
		}

		check, err := qg.checker.CheckQuestion(ctx, question)
		if err != nil {
			Logger().Warnw("error checking question", "question_id", question.ID, "error", err)
			question.Status = StatusRejected
			result.rejected = append(result.rejected, question)
			continue
		}

		switch check.Action {
		case ActionAccept:
			dup, err := qg.dedup.CheckDuplicate(ctx, question)
			if err != nil {
				Logger().Warnw("dedup failed, keeping question", "question_id", question.ID, "error", err)
			} else if dup.IsDuplicate {
				question.Status = StatusRejected
				result.rejected = append(result.rejected, question)
				continue
			}
			result.accepted = append(result.accepted, question)

		case ActionReject:
			question.Status = StatusRejected
			result.rejected = append(result.rejected, question)

		case ActionRevise:
			qg.pool.Add(check.RevisedQuestion)
			result.revised = append(result.revised, check.RevisedQuestion)
		}
	}

	return result
}
