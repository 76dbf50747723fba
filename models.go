package blankquiz

import (
	"strings"
	"time"
)

// Question represents a single fill-in-the-blank question. Text carries one
// [blank_N] tag per entry in Blanks.
type Question struct {
	ID            string         `json:"id"`
	QuizID        string         `json:"quiz_id,omitempty"`
	Text          string         `json:"text"`
	Blanks        []Blank        `json:"blanks"`
	Explanation   string         `json:"explanation"`
	Topic         string         `json:"topic"`
	Status        QuestionStatus `json:"status"`
	RevisionCount int            `json:"revision_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Blank is the answer configuration for one [blank_N] tag
type Blank struct {
	Position         int      `json:"position"`
	CorrectAnswer    string   `json:"correct_answer"`
	AnswerVariations []string `json:"answer_variations,omitempty"`
	CaseSensitive    bool     `json:"case_sensitive"`
}

// Accepts reports whether answer matches the correct answer or one of its
// variations. Surrounding whitespace is ignored.
func (b Blank) Accepts(answer string) bool {
	answer = strings.TrimSpace(answer)
	for _, candidate := range b.acceptedAnswers() {
		if b.CaseSensitive {
			if candidate == answer {
				return true
			}
		} else if strings.EqualFold(candidate, answer) {
			return true
		}
	}
	return false
}

func (b Blank) acceptedAnswers() []string {
	answers := make([]string, 0, len(b.AnswerVariations)+1)
	answers = append(answers, strings.TrimSpace(b.CorrectAnswer))
	for _, v := range b.AnswerVariations {
		answers = append(answers, strings.TrimSpace(v))
	}
	return answers
}

// Positions returns the configured blank positions in blank order
func (q *Question) Positions() []int {
	positions := make([]int, len(q.Blanks))
	for i, b := range q.Blanks {
		positions[i] = b.Position
	}
	return positions
}

// Report validates the question text against its configured blanks.
func (q *Question) Report() BlankTextReport {
	return ValidateBlankText(q.Text, q.Positions())
}

// Form converts the question into its editable form representation.
func (q *Question) Form() QuestionForm {
	form := QuestionForm{
		QuestionText: q.Text,
		Explanation:  q.Explanation,
		Blanks:       make([]BlankForm, len(q.Blanks)),
	}
	for i, b := range q.Blanks {
		form.Blanks[i] = BlankForm{
			Position:         b.Position,
			CorrectAnswer:    b.CorrectAnswer,
			AnswerVariations: append([]string(nil), b.AnswerVariations...),
			CaseSensitive:    b.CaseSensitive,
		}
	}
	return form
}

// Validate runs the form rules over the question.
func (q *Question) Validate() FormErrors {
	return ValidateQuestionForm(q.Form())
}

// Apply copies an edited form into the question.
func (q *Question) Apply(form QuestionForm) {
	q.Text = strings.TrimSpace(form.QuestionText)
	q.Explanation = strings.TrimSpace(form.Explanation)
	q.Blanks = make([]Blank, len(form.Blanks))
	for i, b := range form.Blanks {
		q.Blanks[i] = Blank{
			Position:         b.Position,
			CorrectAnswer:    strings.TrimSpace(b.CorrectAnswer),
			AnswerVariations: trimAll(b.AnswerVariations),
			CaseSensitive:    b.CaseSensitive,
		}
	}
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

// QuestionStatus represents the review state of a question
type QuestionStatus string

const (
	StatusPending  QuestionStatus = "pending"
	StatusApproved QuestionStatus = "approved"
	StatusRejected QuestionStatus = "rejected"
	StatusRevised  QuestionStatus = "revised"
)

// ParseQuestionStatus accepts the status names used by the API.
func ParseQuestionStatus(s string) (QuestionStatus, bool) {
	switch QuestionStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	case StatusRevised:
		return StatusRevised, true
	}
	return "", false
}

// QuizStatus represents the lifecycle of a quiz
type QuizStatus string

const (
	QuizGenerating QuizStatus = "generating"
	QuizReady      QuizStatus = "ready"
	QuizExported   QuizStatus = "exported"
	QuizFailed     QuizStatus = "failed"
)

// Quiz represents a quiz with metadata
type Quiz struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Topic          string     `json:"topic"`
	ModuleIDs      []string   `json:"module_ids,omitempty"`
	NumQuestions   int        `json:"num_questions"`
	SourceMaterial string     `json:"source_material,omitempty"`
	Difficulty     string     `json:"difficulty"`
	Status         QuizStatus `json:"status"`
	CanvasQuizID   string     `json:"canvas_quiz_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Questions      []Question `json:"questions,omitempty"`
}

// CheckResult represents the result of checking a question
type CheckResult struct {
	QuestionID      string      `json:"question_id"`
	Action          CheckAction `json:"action"`
	Reason          string      `json:"reason"`
	RevisedQuestion *Question   `json:"revised_question,omitempty"`
}

// CheckAction represents what the checker decided to do
type CheckAction string

const (
	ActionAccept CheckAction = "accept"
	ActionReject CheckAction = "reject"
	ActionRevise CheckAction = "revise"
)

// GenerationRequest represents a request to generate questions
type GenerationRequest struct {
	Topic          string `json:"topic"`
	NumQuestions   int    `json:"num_questions"`
	SourceMaterial string `json:"source_material,omitempty"`
	Difficulty     string `json:"difficulty,omitempty"`
}
