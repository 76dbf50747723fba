package blankquiz

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	MaxQuestionTextLength = 2000
	MaxAnswerLength       = 200
	MinBlanks             = 1
	MaxBlanks             = 10
	MinBlankPosition      = 1
	MaxBlankPosition      = 100
	MaxAnswerVariations   = 10
	MaxExplanationLength  = 1000
)

// Field paths used in FieldError.Field
const (
	FieldQuestionText = "question_text"
	FieldBlanks       = "blanks"
	FieldExplanation  = "explanation"
)

// QuestionForm is the editable shape of a fill-in-the-blank question as
// submitted by the review editor.
type QuestionForm struct {
	QuestionText string      `json:"question_text" validate:"required,max=2000"`
	Blanks       []BlankForm `json:"blanks" validate:"min=1,max=10,dive"`
	Explanation  string      `json:"explanation" validate:"max=1000"`
}

// BlankForm is one blank definition inside a QuestionForm.
type BlankForm struct {
	Position         int      `json:"position" validate:"min=1,max=100"`
	CorrectAnswer    string   `json:"correct_answer" validate:"required,max=200"`
	AnswerVariations []string `json:"answer_variations" validate:"max=10,dive,required,max=200"`
	CaseSensitive    bool     `json:"case_sensitive"`
}

// Tags reported by the cross-field check.
const (
	tagDistinctAnswer  = "distinct_answer"
	tagUniquePositions = "unique_positions"
	tagBlankFormat     = "blank_format"
	tagUniqueTags      = "unique_tags"
	tagConfigured      = "configured"
	tagTagged          = "tagged"
)

var formValidator = newFormValidator()

func newFormValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateBlankSync, QuestionForm{})
	return v
}

// FieldError attaches a message to a form field path such as
// "blanks.0.correct_answer".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FormErrors collects blocking errors and non-blocking warnings for a form.
type FormErrors struct {
	Errors   []FieldError `json:"errors"`
	Warnings []FieldError `json:"warnings"`
}

// Valid reports whether the form has no blocking errors.
func (fe FormErrors) Valid() bool {
	return len(fe.Errors) == 0
}

// Field returns the error messages recorded for one field path.
func (fe FormErrors) Field(path string) []string {
	var messages []string
	for _, e := range fe.Errors {
		if e.Field == path {
			messages = append(messages, e.Message)
		}
	}
	return messages
}

func (fe *FormErrors) Error() string {
	parts := make([]string, 0, len(fe.Errors))
	for _, e := range fe.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "invalid question: " + strings.Join(parts, "; ")
}

func (fe *FormErrors) warn(field, format string, args ...interface{}) {
	fe.Warnings = append(fe.Warnings, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateQuestionForm checks field rules and the blank tag synchronization
// between the question text and the configured blanks. Values are trimmed
// before any rule runs.
func ValidateQuestionForm(form QuestionForm) FormErrors {
	fe := FormErrors{Errors: []FieldError{}, Warnings: []FieldError{}}
	form = form.trimmed()

	var verrs validator.ValidationErrors
	if err := formValidator.Struct(form); errors.As(err, &verrs) {
		for _, e := range verrs {
			path := fieldPath(e.Namespace())
			fe.Errors = append(fe.Errors, FieldError{Field: path, Message: fieldMessage(path, e)})
		}
	}

	if report := ValidateBlankText(form.QuestionText, form.positions()); report.HasPositionGaps {
		fe.warn(FieldQuestionText, "Blank positions are not consecutive: %s", joinInts(report.Positions))
	}
	return fe
}

func (f QuestionForm) trimmed() QuestionForm {
	out := QuestionForm{
		QuestionText: strings.TrimSpace(f.QuestionText),
		Explanation:  strings.TrimSpace(f.Explanation),
	}
	if f.Blanks != nil {
		out.Blanks = make([]BlankForm, len(f.Blanks))
	}
	for i, b := range f.Blanks {
		out.Blanks[i] = BlankForm{
			Position:         b.Position,
			CorrectAnswer:    strings.TrimSpace(b.CorrectAnswer),
			AnswerVariations: trimAll(b.AnswerVariations),
			CaseSensitive:    b.CaseSensitive,
		}
	}
	return out
}

func (f QuestionForm) positions() []int {
	out := make([]int, 0, len(f.Blanks))
	for _, b := range f.Blanks {
		out = append(out, b.Position)
	}
	return out
}

// validateBlankSync runs after the field rules. It reports variations that
// repeat their answer, positions configured twice, and any disagreement
// between the tags in the text and the configured blanks.
func validateBlankSync(sl validator.StructLevel) {
	form := sl.Current().Interface().(QuestionForm)

	for i, b := range form.Blanks {
		if b.CorrectAnswer == "" {
			continue
		}
		for j, v := range b.AnswerVariations {
			if v == "" || utf8.RuneCountInString(v) > MaxAnswerLength || !sameAnswer(v, b.CorrectAnswer, b.CaseSensitive) {
				continue
			}
			name := fmt.Sprintf("%s[%d].answer_variations[%d]", FieldBlanks, i, j)
			sl.ReportError(v, name, "AnswerVariations", tagDistinctAnswer, "")
		}
	}

	configured := form.positions()
	if dups := repeatedValues(configured); len(dups) > 0 {
		sl.ReportError(form.Blanks, FieldBlanks, "Blanks", tagUniquePositions, joinInts(dups))
	}

	report := ValidateBlankText(form.QuestionText, configured)
	if len(report.InvalidTags) > 0 {
		sl.ReportError(form.QuestionText, FieldQuestionText, "QuestionText", tagBlankFormat, strings.Join(report.InvalidTags, ", "))
	}
	if len(report.DuplicatePositions) > 0 {
		sl.ReportError(form.QuestionText, FieldQuestionText, "QuestionText", tagUniqueTags, joinInts(report.DuplicatePositions))
	}
	if len(report.MissingConfigurations) > 0 {
		sl.ReportError(form.Blanks, FieldBlanks, "Blanks", tagConfigured, joinInts(report.MissingConfigurations))
	}
	if len(report.ExtraConfigurations) > 0 {
		sl.ReportError(form.Blanks, FieldBlanks, "Blanks", tagTagged, joinInts(report.ExtraConfigurations))
	}
}

// fieldPath turns "QuestionForm.blanks[0].answer_variations[1]" into
// "blanks.0.answer_variations.1".
func fieldPath(namespace string) string {
	_, path, _ := strings.Cut(namespace, ".")
	return strings.NewReplacer("[", ".", "]", "").Replace(path)
}

func fieldMessage(path string, e validator.FieldError) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		if isDigits(p) {
			parts[i] = "*"
		}
	}
	tag := e.Tag()

	switch strings.Join(parts, ".") {
	case FieldQuestionText:
		switch tag {
		case "required":
			return "Question text is required"
		case "max":
			return fmt.Sprintf("Question text must be at most %d characters", MaxQuestionTextLength)
		case tagBlankFormat:
			return fmt.Sprintf("Invalid blank tags: %s. Use the format [blank_1]", e.Param())
		case tagUniqueTags:
			return "Duplicate blank positions in question text: " + e.Param()
		}
	case FieldExplanation:
		return fmt.Sprintf("Explanation must be at most %d characters", MaxExplanationLength)
	case FieldBlanks:
		switch tag {
		case "min":
			return fmt.Sprintf("At least %d blank is required", MinBlanks)
		case "max":
			return fmt.Sprintf("At most %d blanks are allowed", MaxBlanks)
		case tagUniquePositions:
			return "Duplicate blank positions configured: " + e.Param()
		case tagConfigured:
			return "Missing blank configurations for positions: " + e.Param()
		case tagTagged:
			return "Blank configurations without matching tags in question text: " + e.Param()
		}
	case "blanks.*.position":
		return fmt.Sprintf("Position must be between %d and %d", MinBlankPosition, MaxBlankPosition)
	case "blanks.*.correct_answer":
		if tag == "required" {
			return "Correct answer is required"
		}
		return fmt.Sprintf("Correct answer must be at most %d characters", MaxAnswerLength)
	case "blanks.*.answer_variations":
		return fmt.Sprintf("At most %d answer variations are allowed", MaxAnswerVariations)
	case "blanks.*.answer_variations.*":
		switch tag {
		case "required":
			return "Answer variation cannot be empty"
		case "max":
			return fmt.Sprintf("Answer variation must be at most %d characters", MaxAnswerLength)
		case tagDistinctAnswer:
			return "Answer variation repeats the correct answer"
		}
	}
	return e.Error()
}

func sameAnswer(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// repeatedValues returns values occurring more than once, in first-repeat order.
func repeatedValues(values []int) []int {
	seen := make(map[int]int, len(values))
	var out []int
	for _, v := range values {
		seen[v]++
		if seen[v] == 2 {
			out = append(out, v)
		}
	}
	return out
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
