package blankquiz

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLLMLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	logger, err := NewLLMLogger(dir, "quiz1", GenerationRequest{Topic: "Rivers", NumQuestions: 2})
	if err != nil {
		t.Fatalf("NewLLMLogger: %v", err)
	}

	logger.LogLLMRequest("QuestionMaker", "Generate 2 questions")
	logger.LogLLMResponse("QuestionMaker", `{"questions":[]}`)
	logger.LogQuestionResult("q1", "reject", "too easy")
	logger.LogDedupResult("q2", true, "same fact", "q0")
	logger.LogInvalidQuestion("q3", ValidateQuestionForm(QuestionForm{QuestionText: "[blank_1]"}))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "quiz1.log"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		"quiz generation started", "Rivers",
		"llm request", "Generate 2 questions",
		"question checked", "too easy",
		"dedup checked", "q0",
		"question dropped", "At least 1 blank is required",
		"quiz generation complete",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("transcript missing %q:\n%s", want, text)
		}
	}
}

func TestLLMLoggerNil(t *testing.T) {
	var logger *LLMLogger
	logger.LogLLMRequest("m", "p")
	logger.LogInvalidQuestion("q", FormErrors{})
	if err := logger.Close(); err != nil {
		t.Errorf("Close on nil logger: %v", err)
	}
}
