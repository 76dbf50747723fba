package blankquiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrNotSynchronized  = errors.New("question blanks are not synchronized with its text")
)

// DB represents a quiz database connection
type DB struct {
	db *sql.DB
}

// OpenDB opens a new database connection
func OpenDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db: db}, nil
}

// CloseDB closes the database connection
func (db *DB) CloseDB() error {
	return db.db.Close()
}

// CreateTables creates the necessary tables if they don't exist
func (db *DB) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS quizzes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			topic TEXT NOT NULL,
			module_ids TEXT NOT NULL DEFAULT '[]',
			num_questions INTEGER NOT NULL,
			source_material TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'generating',
			canvas_quiz_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			quiz_id TEXT NOT NULL,
			question_num INTEGER NOT NULL,
			text TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			revision_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS blanks (
			question_id TEXT NOT NULL,
			sort_order INTEGER NOT NULL,
			position INTEGER NOT NULL,
			correct_answer TEXT NOT NULL,
			answer_variations TEXT NOT NULL DEFAULT '[]',
			case_sensitive INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (question_id, sort_order),
			FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_quiz ON questions(quiz_id, question_num)`,
	}

	for _, query := range queries {
		if _, err := db.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}
	return nil
}

// CreateQuiz creates a new quiz in the database
func (db *DB) CreateQuiz(ctx context.Context, quiz *Quiz) error {
	moduleIDs, err := toJSON(quiz.ModuleIDs)
	if err != nil {
		return err
	}
	if quiz.CreatedAt.IsZero() {
		quiz.CreatedAt = time.Now()
	}
	if quiz.Status == "" {
		quiz.Status = QuizGenerating
	}
	if quiz.Title == "" {
		quiz.Title = quiz.Topic
	}

	_, err = db.db.ExecContext(ctx,
		`INSERT INTO quizzes (id, title, topic, module_ids, num_questions, source_material, difficulty, status, canvas_quiz_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		quiz.ID, quiz.Title, quiz.Topic, moduleIDs, quiz.NumQuestions, quiz.SourceMaterial, quiz.Difficulty, string(quiz.Status), quiz.CanvasQuizID, quiz.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create quiz: %w", err)
	}
	return nil
}

const quizColumns = "id, title, topic, module_ids, num_questions, source_material, difficulty, status, canvas_quiz_id, created_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuiz(row rowScanner) (*Quiz, error) {
	var (
		quiz      Quiz
		moduleIDs string
		status    string
	)
	if err := row.Scan(&quiz.ID, &quiz.Title, &quiz.Topic, &moduleIDs, &quiz.NumQuestions, &quiz.SourceMaterial, &quiz.Difficulty, &status, &quiz.CanvasQuizID, &quiz.CreatedAt); err != nil {
		return nil, err
	}
	quiz.Status = QuizStatus(status)
	if err := json.Unmarshal([]byte(moduleIDs), &quiz.ModuleIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal module ids: %w", err)
	}
	return &quiz, nil
}

// GetQuiz retrieves a quiz by ID
func (db *DB) GetQuiz(ctx context.Context, id string) (*Quiz, error) {
	quiz, err := scanQuiz(db.db.QueryRowContext(ctx, "SELECT "+quizColumns+" FROM quizzes WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrQuizNotFound, id)
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	return quiz, nil
}

// ListQuizzes retrieves quizzes newest first, optionally limited by count
func (db *DB) ListQuizzes(ctx context.Context, limit int) ([]Quiz, error) {
	query := "SELECT " + quizColumns + " FROM quizzes ORDER BY created_at DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get quizzes: %w", err)
	}
	defer rows.Close()

	quizzes := []Quiz{}
	for rows.Next() {
		quiz, err := scanQuiz(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quiz: %w", err)
		}
		quizzes = append(quizzes, *quiz)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quizzes: %w", err)
	}
	return quizzes, nil
}

// UpdateQuizStatus updates the status of a quiz
func (db *DB) UpdateQuizStatus(ctx context.Context, id string, status QuizStatus) error {
	return db.updateQuiz(ctx, "UPDATE quizzes SET status = ? WHERE id = ?", string(status), id)
}

// SetCanvasQuizID records the Canvas quiz a quiz was exported to and marks
// it exported.
func (db *DB) SetCanvasQuizID(ctx context.Context, id, canvasQuizID string) error {
	return db.updateQuiz(ctx, "UPDATE quizzes SET canvas_quiz_id = ?, status = ? WHERE id = ?", canvasQuizID, string(QuizExported), id)
}

func (db *DB) updateQuiz(ctx context.Context, query string, args ...interface{}) error {
	res, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update quiz: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %v", ErrQuizNotFound, args[len(args)-1])
	}
	return nil
}

// SaveQuestion validates and stores a new question at the end of its quiz.
// An invalid question is returned as *FormErrors.
func (db *DB) SaveQuestion(ctx context.Context, q *Question) error {
	if fe := q.Validate(); !fe.Valid() {
		return &fe
	}

	now := time.Now()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now
	if q.Status == "" {
		q.Status = StatusPending
	}

	return db.inTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(question_num), 0) + 1 FROM questions WHERE quiz_id = ?", q.QuizID).Scan(&next); err != nil {
			return fmt.Errorf("failed to number question: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id, quiz_id, question_num, text, explanation, topic, status, revision_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.QuizID, next, q.Text, q.Explanation, q.Topic, string(q.Status), q.RevisionCount, q.CreatedAt, q.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create question: %w", err)
		}
		return insertBlanks(ctx, tx, q)
	})
}

// UpdateQuestion applies an edited form to a stored question. The edit is
// validated first and resets the question to pending review.
func (db *DB) UpdateQuestion(ctx context.Context, id string, form QuestionForm) (*Question, error) {
	q, err := db.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if fe := ValidateQuestionForm(form); !fe.Valid() {
		return nil, &fe
	}

	q.Apply(form)
	q.Status = StatusPending
	q.UpdatedAt = time.Now()

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE questions SET text = ?, explanation = ?, status = ?, updated_at = ? WHERE id = ?",
			q.Text, q.Explanation, string(q.Status), q.UpdatedAt, q.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update question: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM blanks WHERE question_id = ?", q.ID); err != nil {
			return fmt.Errorf("failed to clear blanks: %w", err)
		}
		return insertBlanks(ctx, tx, q)
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// SetQuestionStatus moves a question through review. Approval requires the
// stored question to pass validation.
func (db *DB) SetQuestionStatus(ctx context.Context, id string, status QuestionStatus) (*Question, error) {
	q, err := db.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if status == StatusApproved {
		if fe := q.Validate(); !fe.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrNotSynchronized, fe.Error())
		}
	}

	q.Status = status
	q.UpdatedAt = time.Now()
	if _, err := db.db.ExecContext(ctx, "UPDATE questions SET status = ?, updated_at = ? WHERE id = ?", string(status), q.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("failed to update question status: %w", err)
	}
	return q, nil
}

const questionColumns = "id, quiz_id, text, explanation, topic, status, revision_count, created_at, updated_at"

func scanQuestion(row rowScanner) (*Question, error) {
	var (
		q      Question
		status string
	)
	if err := row.Scan(&q.ID, &q.QuizID, &q.Text, &q.Explanation, &q.Topic, &status, &q.RevisionCount, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	q.Status = QuestionStatus(status)
	return &q, nil
}

// GetQuestion retrieves a question with its blanks
func (db *DB) GetQuestion(ctx context.Context, id string) (*Question, error) {
	q, err := scanQuestion(db.db.QueryRowContext(ctx, "SELECT "+questionColumns+" FROM questions WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrQuestionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	if err := db.loadBlanks(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// ListQuestions retrieves the questions of a quiz in order. An empty status
// returns every question.
func (db *DB) ListQuestions(ctx context.Context, quizID string, status QuestionStatus) ([]Question, error) {
	query := "SELECT " + questionColumns + " FROM questions WHERE quiz_id = ?"
	args := []interface{}{quizID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY question_num"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	defer rows.Close()

	questions := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	rows.Close()

	for i := range questions {
		if err := db.loadBlanks(ctx, &questions[i]); err != nil {
			return nil, err
		}
	}
	return questions, nil
}

// CountQuestions returns the number of stored questions for a quiz
func (db *DB) CountQuestions(ctx context.Context, quizID string) (int, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM questions WHERE quiz_id = ?", quizID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return n, nil
}

func (db *DB) loadBlanks(ctx context.Context, q *Question) error {
	rows, err := db.db.QueryContext(ctx,
		"SELECT position, correct_answer, answer_variations, case_sensitive FROM blanks WHERE question_id = ? ORDER BY sort_order",
		q.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get blanks: %w", err)
	}
	defer rows.Close()

	q.Blanks = []Blank{}
	for rows.Next() {
		var (
			b          Blank
			variations string
		)
		if err := rows.Scan(&b.Position, &b.CorrectAnswer, &variations, &b.CaseSensitive); err != nil {
			return fmt.Errorf("failed to scan blank: %w", err)
		}
		if err := json.Unmarshal([]byte(variations), &b.AnswerVariations); err != nil {
			return fmt.Errorf("failed to unmarshal answer variations: %w", err)
		}
		if len(b.AnswerVariations) == 0 {
			b.AnswerVariations = nil
		}
		q.Blanks = append(q.Blanks, b)
	}
	return rows.Err()
}

func insertBlanks(ctx context.Context, tx *sql.Tx, q *Question) error {
	for i, b := range q.Blanks {
		variations, err := toJSON(b.AnswerVariations)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO blanks (question_id, sort_order, position, correct_answer, answer_variations, case_sensitive) VALUES (?, ?, ?, ?, ?, ?)",
			q.ID, i, b.Position, b.CorrectAnswer, variations, b.CaseSensitive,
		)
		if err != nil {
			return fmt.Errorf("failed to create blank: %w", err)
		}
	}
	return nil
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// toJSON encodes a string list, storing nil as an empty array
func toJSON(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list: %w", err)
	}
	return string(data), nil
}

// GenerateQuiz runs generation for a stored quiz and saves each accepted
// question as it arrives. The quiz ends ready, or failed when nothing was
// stored.
func (db *DB) GenerateQuiz(ctx context.Context, generator *QuizGenerator, quiz *Quiz) error {
	req := GenerationRequest{
		Topic:          quiz.Topic,
		NumQuestions:   quiz.NumQuestions,
		SourceMaterial: quiz.SourceMaterial,
		Difficulty:     quiz.Difficulty,
	}

	stored := 0
	runErr := generator.Run(ctx, req, func(q *Question) bool {
		q.QuizID = quiz.ID
		if err := db.SaveQuestion(ctx, q); err != nil {
			Logger().Errorw("failed to store question", "quiz_id", quiz.ID, "question_id", q.ID, "error", err)
			return true
		}
		stored++
		return true
	})

	status := QuizReady
	if stored == 0 {
		status = QuizFailed
	}
	// the request context may already be cancelled
	if err := db.UpdateQuizStatus(context.Background(), quiz.ID, status); err != nil {
		Logger().Errorw("failed to update quiz status", "quiz_id", quiz.ID, "error", err)
	}

	if runErr != nil {
		Logger().Errorw("quiz generation failed", "quiz_id", quiz.ID, "stored", stored, "error", runErr)
		return runErr
	}
	Logger().Infow("quiz generation stored", "quiz_id", quiz.ID, "stored", stored)
	return nil
}
