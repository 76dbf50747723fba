package blankquiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// numberedDrafts returns a submit_questions handler producing n distinct
// valid drafts per call.
func numberedDrafts(n int) func(string) string {
	var mu sync.Mutex
	next := 0
	return func(string) string {
		mu.Lock()
		defer mu.Unlock()
		questions := make([]interface{}, n)
		for i := range questions {
			next++
			questions[i] = draft(fmt.Sprintf("Fact %d is [blank_1].", next), fmt.Sprint(next))
		}
		return mustJSON(map[string]interface{}{"questions": questions})
	}
}

func accepting(string) string { return `{"action":"accept","reason":"good"}` }
func unique(string) string    { return `{"is_duplicate":false,"reason":"new"}` }

func TestGenerateQuiz(t *testing.T) {
	chat := newFakeChat().
		on("submit_questions", numberedDrafts(2)).
		on("evaluate_question", accepting).
		on("check_duplicate", unique)
	generator := NewQuizGeneratorWithClient(chat, "test-model")

	quiz, err := generator.GenerateQuiz(context.Background(), GenerationRequest{Topic: "Facts", NumQuestions: 3, Difficulty: "easy"})
	if err != nil {
		t.Fatalf("GenerateQuiz: %v", err)
	}
	if quiz.Status != QuizReady || quiz.Topic != "Facts" || quiz.ID == "" {
		t.Errorf("quiz = %+v", quiz)
	}
	if len(quiz.Questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(quiz.Questions))
	}
	for _, q := range quiz.Questions {
		if q.QuizID != quiz.ID {
			t.Errorf("question %s has quiz id %q", q.ID, q.QuizID)
		}
		if q.Status != StatusPending {
			t.Errorf("accepted question status = %q, want pending for review", q.Status)
		}
		if fe := q.Validate(); !fe.Valid() {
			t.Errorf("accepted invalid question: %+v", fe.Errors)
		}
	}
	if n := chat.calls("submit_questions"); n != 2 {
		t.Errorf("maker calls = %d, want 2", n)
	}
}

func TestGenerateQuizRevision(t *testing.T) {
	chat := newFakeChat().
		on("submit_questions", func(string) string {
			return mustJSON(map[string]interface{}{"questions": []interface{}{
				draft("Water boils at [blank_1] degrees.", "100"),
			}})
		}).
		on("evaluate_question", func(prompt string) string {
			if strings.Contains(prompt, "Celsius") {
				return accepting(prompt)
			}
			return mustJSON(map[string]interface{}{
				"action":           "revise",
				"reason":           "name the scale",
				"revised_question": draft("Water boils at [blank_1] degrees Celsius at sea level.", "100"),
			})
		}).
		on("check_duplicate", unique)
	generator := NewQuizGeneratorWithClient(chat, "")

	quiz, err := generator.GenerateQuiz(context.Background(), GenerationRequest{Topic: "Physics", NumQuestions: 1})
	if err != nil {
		t.Fatalf("GenerateQuiz: %v", err)
	}
	q := quiz.Questions[0]
	if !strings.Contains(q.Text, "Celsius") || q.Status != StatusRevised || q.RevisionCount != 1 {
		t.Errorf("question = %+v, want accepted revision", q)
	}
	if n := chat.calls("evaluate_question"); n != 2 {
		t.Errorf("checker calls = %d, want 2", n)
	}
}

func TestGenerateQuizRevisionLimit(t *testing.T) {
	chat := newFakeChat().
		on("submit_questions", numberedDrafts(1)).
		on("evaluate_question", func(string) string {
			return mustJSON(map[string]interface{}{
				"action":           "revise",
				"reason":           "again",
				"revised_question": draft("Still [blank_1].", "x"),
			})
		})
	generator := NewQuizGeneratorWithClient(chat, "")
	generator.MaxRounds = 2

	_, err := generator.GenerateQuiz(context.Background(), GenerationRequest{Topic: "Loops", NumQuestions: 1})
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("err = %v, want ErrNoProgress", err)
	}
	if n := chat.calls("evaluate_question"); n != 2*MaxRevisions {
		t.Errorf("checker calls = %d, want %d", n, 2*MaxRevisions)
	}
}

func TestGenerateQuizDuplicatesGrowBatch(t *testing.T) {
	chat := newFakeChat().
		on("submit_questions", numberedDrafts(2)).
		on("evaluate_question", accepting).
		on("check_duplicate", func(string) string {
			return `{"is_duplicate":true,"reason":"same fact","duplicate_id":"x"}`
		})
	generator := NewQuizGeneratorWithClient(chat, "")
	generator.MaxRounds = 3

	var got []*Question
	err := generator.Run(context.Background(), GenerationRequest{Topic: "Facts", NumQuestions: 2}, func(q *Question) bool {
		got = append(got, q)
		return true
	})
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("err = %v, want ErrNoProgress", err)
	}
	if len(got) != 1 {
		t.Errorf("emitted %d questions, want only the first unique one", len(got))
	}

	// The first round accepts one question, then three idle rounds in a row
	// exhaust MaxRounds.
	prompts := chat.prompts["submit_questions"]
	if len(prompts) != 4 {
		t.Fatalf("maker calls = %d, want 4", len(prompts))
	}
	for i, want := range []string{"Generate 5 ", "Generate 5 ", "Generate 7 ", "Generate 9 "} {
		if !strings.HasPrefix(prompts[i], want) {
			t.Errorf("round %d prompt starts %q, want %q", i, strings.SplitN(prompts[i], "\n", 2)[0], want)
		}
	}
}

func TestGenerateQuizLargeRequest(t *testing.T) {
	chat := newFakeChat().
		on("submit_questions", numberedDrafts(defaultBatchSize)).
		on("evaluate_question", accepting).
		on("check_duplicate", unique)
	generator := NewQuizGeneratorWithClient(chat, "")

	quiz, err := generator.GenerateQuiz(context.Background(), GenerationRequest{Topic: "Facts", NumQuestions: 101})
	if err != nil {
		t.Fatalf("GenerateQuiz: %v", err)
	}
	if len(quiz.Questions) != 101 {
		t.Errorf("got %d questions, want 101", len(quiz.Questions))
	}
	if n := chat.calls("submit_questions"); n <= generator.MaxRounds {
		t.Errorf("maker calls = %d, expected more rounds than MaxRounds", n)
	}
}

func TestGenerateQuizMakerError(t *testing.T) {
	generator := NewQuizGeneratorWithClient(newFakeChat(), "")
	if _, err := generator.GenerateQuiz(context.Background(), GenerationRequest{Topic: "x", NumQuestions: 1}); err == nil {
		t.Fatal("expected maker error")
	}
}

func TestGenerateQuizRequestValidation(t *testing.T) {
	generator := NewQuizGeneratorWithClient(newFakeChat(), "")
	ctx := context.Background()
	if _, err := generator.GenerateQuiz(ctx, GenerationRequest{NumQuestions: 1}); err == nil {
		t.Error("expected error for missing topic")
	}
	if _, err := generator.GenerateQuizStream(ctx, GenerationRequest{Topic: "x"}); err == nil {
		t.Error("expected error for zero questions")
	}
	if _, err := generator.GenerateQuiz(ctx, GenerationRequest{Topic: "x", NumQuestions: MaxQuestions + 1}); err == nil {
		t.Error("expected error above MaxQuestions")
	}
}

func TestGenerateQuizStream(t *testing.T) {
	chat := newFakeChat().
		on("submit_questions", numberedDrafts(3)).
		on("evaluate_question", accepting).
		on("check_duplicate", unique)
	generator := NewQuizGeneratorWithClient(chat, "")

	stream, err := generator.GenerateQuizStream(context.Background(), GenerationRequest{Topic: "Facts", NumQuestions: 4})
	if err != nil {
		t.Fatalf("GenerateQuizStream: %v", err)
	}
	seen := make(map[string]bool)
	for q := range stream {
		if seen[q.ID] {
			t.Errorf("question %s streamed twice", q.ID)
		}
		seen[q.ID] = true
	}
	if len(seen) != 4 {
		t.Errorf("streamed %d questions, want 4", len(seen))
	}
}

func TestGenerateQuizStreamCancel(t *testing.T) {
	chat := newFakeChat().
		on("submit_questions", numberedDrafts(3)).
		on("evaluate_question", accepting).
		on("check_duplicate", unique)
	generator := NewQuizGeneratorWithClient(chat, "")

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := generator.GenerateQuizStream(ctx, GenerationRequest{Topic: "Facts", NumQuestions: 100})
	if err != nil {
		t.Fatalf("GenerateQuizStream: %v", err)
	}
	<-stream
	cancel()
	for range stream {
	}
}
