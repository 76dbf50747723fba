package blankquiz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// MaxRevisions is the number of revisions after which a question is
// rejected without asking the model again.
const MaxRevisions = 3

// QuestionChecker reviews and potentially revises questions with an LLM
type QuestionChecker struct {
	client ChatCompleter
	model  string
	logger *LLMLogger
}

// NewQuestionChecker creates a new question checker with OpenAI client
func NewQuestionChecker(apiKey string) *QuestionChecker {
	return NewQuestionCheckerWithClient(NewOpenAIClient(apiKey, ""), DefaultModel)
}

// NewQuestionCheckerWithClient creates a question checker on an existing client
func NewQuestionCheckerWithClient(client ChatCompleter, model string) *QuestionChecker {
	return &QuestionChecker{client: client, model: model}
}

// SetLogger sets the transcript logger
func (qc *QuestionChecker) SetLogger(logger *LLMLogger) {
	qc.logger = logger
}

// CheckQuestion reviews a single question and returns the decision. A
// revision that breaks the blank configuration is turned into a rejection.
func (qc *QuestionChecker) CheckQuestion(ctx context.Context, question *Question) (*CheckResult, error) {
	VerboseLog("checking question", "question_id", question.ID, "revision_count", question.RevisionCount)

	if question.RevisionCount >= MaxRevisions {
		return qc.finish(&CheckResult{
			QuestionID: question.ID,
			Action:     ActionReject,
			Reason:     fmt.Sprintf("Question rejected after %d revision attempts", question.RevisionCount),
		}), nil
	}

	args, err := toolCall{
		module: "QuestionChecker",
		model:  qc.model,
		system: "You are an expert reviewer of fill-in-the-blank quiz questions. Evaluate questions for quality, clarity, and fairness.",
		prompt: qc.buildPrompt(question),
		fn: openai.FunctionDefinition{
			Name:        "evaluate_question",
			Description: "Evaluate a fill-in-the-blank question and decide whether to accept, reject, or revise it",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"reason": map[string]interface{}{
						"type":        "string",
						"description": "Explanation for the decision",
					},
					"action": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"accept", "reject", "revise"},
						"description": "What to do with this question",
					},
					"revised_question": questionSchema(),
				},
				"required": []string{"reason", "action"},
			},
		},
	}.call(ctx, qc.client, qc.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to check question: %w", err)
	}

	var toolArgs struct {
		Reason          string         `json:"reason"`
		Action          string         `json:"action"`
		RevisedQuestion *draftQuestion `json:"revised_question,omitempty"`
	}
	if err := json.Unmarshal([]byte(args), &toolArgs); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
	}

	result := &CheckResult{
		QuestionID: question.ID,
		Action:     CheckAction(toolArgs.Action),
		Reason:     toolArgs.Reason,
	}

	switch result.Action {
	case ActionAccept, ActionReject:
	case ActionRevise:
		if toolArgs.RevisedQuestion == nil {
			result.Action = ActionReject
			result.Reason = "revision requested without a revised question: " + result.Reason
			break
		}
		revised := toolArgs.RevisedQuestion.toQuestion(question.ID, question.Topic, StatusRevised)
		revised.QuizID = question.QuizID
		revised.RevisionCount = question.RevisionCount + 1
		if fe := revised.Validate(); !fe.Valid() {
			qc.logger.LogInvalidQuestion(revised.ID, fe)
			result.Action = ActionReject
			result.Reason = "revised question is invalid: " + fe.Error()
			break
		}
		result.RevisedQuestion = revised
	default:
		return nil, fmt.Errorf("unexpected action: %q", toolArgs.Action)
	}

	return qc.finish(result), nil
}

func (qc *QuestionChecker) finish(result *CheckResult) *CheckResult {
	qc.logger.LogQuestionResult(result.QuestionID, string(result.Action), result.Reason)
	VerboseLog("question checked", "question_id", result.QuestionID, "action", result.Action, "reason", result.Reason)
	return result
}

func (qc *QuestionChecker) buildPrompt(question *Question) string {
	var sb strings.Builder

	sb.WriteString("Evaluate the following fill-in-the-blank question:\n\n")
	sb.WriteString(fmt.Sprintf("Quiz Topic: %s\n\n", question.Topic))
	writeQuestion(&sb, question)
	sb.WriteString("\n")

	sb.WriteString("CRITICAL EVALUATION CRITERIA:\n")
	sb.WriteString("- AUTOMATIC REJECTION: an answer appears elsewhere in the question text.\n")
	sb.WriteString("- AUTOMATIC REJECTION: the question is not relevant to the quiz topic.\n")
	sb.WriteString("- AUTOMATIC REJECTION: a blank has more than one reasonable answer that is not listed.\n\n")

	sb.WriteString("Additional evaluation criteria:\n")
	sb.WriteString("1. Is the sentence still readable with the blanks removed?\n")
	sb.WriteString("2. Is every answer actually correct?\n")
	sb.WriteString("3. Are the answer variations complete enough for fair grading?\n")
	sb.WriteString("4. Does the question test understanding rather than trivia?\n")
	sb.WriteString("5. Does the explanation say WHY the answers are correct?\n\n")

	sb.WriteString("Decision guidelines:\n")
	sb.WriteString("- REJECT: the question has fundamental problems\n")
	sb.WriteString("- REVISE: the question has potential but needs improvements\n")
	sb.WriteString("- ACCEPT: the question is good as-is\n\n")

	sb.WriteString("If you revise, keep the [blank_N] tags and blank positions in sync: one blank definition per tag.\n")
	sb.WriteString("If you choose to revise, provide a complete revised version of the question.")

	return sb.String()
}
