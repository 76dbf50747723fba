package blankquiz

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LLMLogger writes the transcript of every LLM interaction for one quiz to
// <dir>/<quizID>.log. All methods are safe on a nil receiver.
type LLMLogger struct {
	file *os.File
	log  *zap.Logger
}

// NewLLMLogger creates a transcript logger for a specific quiz
func NewLLMLogger(dir, quizID string, req GenerationRequest) (*LLMLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.Create(filepath.Join(dir, quizID+".log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	core := zapcore.NewCore(encoder, zapcore.AddSync(file), zapcore.DebugLevel)

	ll := &LLMLogger{
		file: file,
		log:  zap.New(core).With(zap.String("quiz_id", quizID)),
	}

	ll.log.Info("quiz generation started",
		zap.String("topic", req.Topic),
		zap.Int("num_questions", req.NumQuestions),
		zap.String("difficulty", req.Difficulty),
		zap.Int("source_material_chars", len(req.SourceMaterial)),
	)
	return ll, nil
}

// LogLLMRequest logs an LLM request
func (ll *LLMLogger) LogLLMRequest(module, prompt string) {
	if ll == nil {
		return
	}
	ll.log.Info("llm request", zap.String("module", module), zap.String("prompt", prompt))
}

// LogLLMResponse logs an LLM response
func (ll *LLMLogger) LogLLMResponse(module, response string) {
	if ll == nil {
		return
	}
	ll.log.Info("llm response", zap.String("module", module), zap.String("response", response))
}

// LogQuestionResult logs the checker decision for a question
func (ll *LLMLogger) LogQuestionResult(questionID, action, reason string) {
	if ll == nil {
		return
	}
	ll.log.Info("question checked", zap.String("question_id", questionID), zap.String("action", action), zap.String("reason", reason))
}

// LogDedupResult logs the result of deduplication
func (ll *LLMLogger) LogDedupResult(questionID string, isDuplicate bool, reason, duplicateID string) {
	if ll == nil {
		return
	}
	ll.log.Info("dedup checked",
		zap.String("question_id", questionID),
		zap.Bool("duplicate", isDuplicate),
		zap.String("duplicate_of", duplicateID),
		zap.String("reason", reason),
	)
}

// LogInvalidQuestion logs a drafted question dropped by form validation
func (ll *LLMLogger) LogInvalidQuestion(questionID string, fe FormErrors) {
	if ll == nil {
		return
	}
	messages := make([]string, 0, len(fe.Errors))
	for _, e := range fe.Errors {
		messages = append(messages, e.Field+": "+e.Message)
	}
	ll.log.Warn("question dropped", zap.String("question_id", questionID), zap.String("errors", strings.Join(messages, "; ")))
}

// Close flushes and closes the log file
func (ll *LLMLogger) Close() error {
	if ll == nil || ll.file == nil {
		return nil
	}
	ll.log.Info("quiz generation complete")
	_ = ll.log.Sync()
	err := ll.file.Close()
	ll.file = nil
	return err
}
