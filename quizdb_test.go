package blankquiz

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "quiz.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.CloseDB() })
	if err := db.CreateTables(); err != nil {
		t.Fatalf("CreateTables: %v", err)
	}
	return db
}

func createTestQuiz(t *testing.T, db *DB, id string) *Quiz {
	t.Helper()
	quiz := &Quiz{ID: id, Topic: "Geography", NumQuestions: 2, ModuleIDs: []string{"m1", "m2"}}
	if err := db.CreateQuiz(context.Background(), quiz); err != nil {
		t.Fatalf("CreateQuiz: %v", err)
	}
	return quiz
}

func geographyQuestion(id, quizID string) *Question {
	q := &Question{ID: id, QuizID: quizID, Topic: "Geography"}
	q.Apply(QuestionForm{
		QuestionText: "[blank_1] is the capital of [blank_2].",
		Blanks: []BlankForm{
			{Position: 1, CorrectAnswer: "Canberra"},
			{Position: 2, CorrectAnswer: "Australia", AnswerVariations: []string{"Commonwealth of Australia"}},
		},
		Explanation: "Canberra was purpose-built as the capital.",
	})
	return q
}

func TestQuizCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	quiz := createTestQuiz(t, db, "quiz1")

	if quiz.Title != "Geography" || quiz.Status != QuizGenerating {
		t.Errorf("CreateQuiz defaults: %+v", quiz)
	}

	got, err := db.GetQuiz(ctx, "quiz1")
	if err != nil {
		t.Fatalf("GetQuiz: %v", err)
	}
	if !reflect.DeepEqual(got.ModuleIDs, []string{"m1", "m2"}) || got.NumQuestions != 2 {
		t.Errorf("GetQuiz = %+v", got)
	}

	if _, err := db.GetQuiz(ctx, "nope"); !errors.Is(err, ErrQuizNotFound) {
		t.Errorf("GetQuiz missing err = %v", err)
	}
	if err := db.UpdateQuizStatus(ctx, "nope", QuizReady); !errors.Is(err, ErrQuizNotFound) {
		t.Errorf("UpdateQuizStatus missing err = %v", err)
	}

	if err := db.SetCanvasQuizID(ctx, "quiz1", "42"); err != nil {
		t.Fatalf("SetCanvasQuizID: %v", err)
	}
	got, _ = db.GetQuiz(ctx, "quiz1")
	if got.CanvasQuizID != "42" || got.Status != QuizExported {
		t.Errorf("after export: %+v", got)
	}

	createTestQuiz(t, db, "quiz2")
	quizzes, err := db.ListQuizzes(ctx, 1)
	if err != nil {
		t.Fatalf("ListQuizzes: %v", err)
	}
	if len(quizzes) != 1 {
		t.Errorf("ListQuizzes limit 1 returned %d", len(quizzes))
	}
	if quizzes, _ = db.ListQuizzes(ctx, 0); len(quizzes) != 2 {
		t.Errorf("ListQuizzes returned %d, want 2", len(quizzes))
	}
}

func TestSaveAndListQuestions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestQuiz(t, db, "quiz1")

	for _, id := range []string{"q1", "q2"} {
		if err := db.SaveQuestion(ctx, geographyQuestion(id, "quiz1")); err != nil {
			t.Fatalf("SaveQuestion(%s): %v", id, err)
		}
	}

	questions, err := db.ListQuestions(ctx, "quiz1", "")
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(questions) != 2 || questions[0].ID != "q1" || questions[1].ID != "q2" {
		t.Fatalf("ListQuestions = %+v", questions)
	}
	want := geographyQuestion("q1", "quiz1").Blanks
	if !reflect.DeepEqual(questions[0].Blanks, want) {
		t.Errorf("blanks = %+v, want %+v", questions[0].Blanks, want)
	}
	if questions[0].Status != StatusPending {
		t.Errorf("status = %q", questions[0].Status)
	}

	if n, _ := db.CountQuestions(ctx, "quiz1"); n != 2 {
		t.Errorf("CountQuestions = %d", n)
	}
	if approved, _ := db.ListQuestions(ctx, "quiz1", StatusApproved); len(approved) != 0 {
		t.Errorf("approved = %d, want 0", len(approved))
	}
}

func TestSaveQuestionRejectsInvalid(t *testing.T) {
	db := newTestDB(t)
	createTestQuiz(t, db, "quiz1")

	q := geographyQuestion("q1", "quiz1")
	q.Text = "[blank_1] is the capital."

	err := db.SaveQuestion(context.Background(), q)
	var fe *FormErrors
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FormErrors", err)
	}
	if msgs := fe.Field(FieldBlanks); len(msgs) == 0 {
		t.Errorf("expected blanks error, got %+v", fe.Errors)
	}
	if n, _ := db.CountQuestions(context.Background(), "quiz1"); n != 0 {
		t.Errorf("invalid question stored")
	}
}

func TestUpdateQuestion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestQuiz(t, db, "quiz1")
	if err := db.SaveQuestion(ctx, geographyQuestion("q1", "quiz1")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SetQuestionStatus(ctx, "q1", StatusApproved); err != nil {
		t.Fatal(err)
	}

	form := QuestionForm{
		QuestionText: "The capital of [blank_1] is [blank_2] and its largest city is [blank_3].",
		Blanks: []BlankForm{
			{Position: 1, CorrectAnswer: "Australia"},
			{Position: 2, CorrectAnswer: "Canberra"},
			{Position: 3, CorrectAnswer: "Sydney"},
		},
	}
	updated, err := db.UpdateQuestion(ctx, "q1", form)
	if err != nil {
		t.Fatalf("UpdateQuestion: %v", err)
	}
	if updated.Status != StatusPending {
		t.Errorf("edit should reset review, status = %q", updated.Status)
	}

	stored, err := db.GetQuestion(ctx, "q1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Text != form.QuestionText || len(stored.Blanks) != 3 || stored.Blanks[2].CorrectAnswer != "Sydney" {
		t.Errorf("stored = %+v", stored)
	}

	form.Blanks = form.Blanks[:2]
	_, err = db.UpdateQuestion(ctx, "q1", form)
	var fe *FormErrors
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FormErrors", err)
	}
	if stored, _ := db.GetQuestion(ctx, "q1"); len(stored.Blanks) != 3 {
		t.Error("invalid edit changed the stored question")
	}

	if _, err := db.UpdateQuestion(ctx, "missing", form); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("missing question err = %v", err)
	}
}

func TestApproveRequiresSynchronizedQuestion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestQuiz(t, db, "quiz1")
	if err := db.SaveQuestion(ctx, geographyQuestion("q1", "quiz1")); err != nil {
		t.Fatal(err)
	}

	// break the stored text behind the validator's back
	if _, err := db.db.Exec("UPDATE questions SET text = ? WHERE id = ?", "[blank_1] only", "q1"); err != nil {
		t.Fatal(err)
	}

	if _, err := db.SetQuestionStatus(ctx, "q1", StatusApproved); !errors.Is(err, ErrNotSynchronized) {
		t.Fatalf("approve err = %v, want ErrNotSynchronized", err)
	}
	q, err := db.SetQuestionStatus(ctx, "q1", StatusRejected)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if q.Status != StatusRejected {
		t.Errorf("status = %q", q.Status)
	}
}

func TestDBGenerateQuiz(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	quiz := createTestQuiz(t, db, "quiz1")

	chat := newFakeChat().
		on("submit_questions", numberedDrafts(2)).
		on("evaluate_question", accepting).
		on("check_duplicate", unique)
	if err := db.GenerateQuiz(ctx, NewQuizGeneratorWithClient(chat, ""), quiz); err != nil {
		t.Fatalf("GenerateQuiz: %v", err)
	}

	got, _ := db.GetQuiz(ctx, "quiz1")
	if got.Status != QuizReady {
		t.Errorf("status = %q, want ready", got.Status)
	}
	questions, _ := db.ListQuestions(ctx, "quiz1", StatusPending)
	if len(questions) != 2 {
		t.Errorf("stored %d pending questions, want 2", len(questions))
	}
}

func TestDBGenerateQuizFailure(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	quiz := createTestQuiz(t, db, "quiz1")

	if err := db.GenerateQuiz(ctx, NewQuizGeneratorWithClient(newFakeChat(), ""), quiz); err == nil {
		t.Fatal("expected generation error")
	}
	got, _ := db.GetQuiz(ctx, "quiz1")
	if got.Status != QuizFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}
