package blankquiz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// QuestionDedup checks for duplicate questions with an LLM
type QuestionDedup struct {
	client ChatCompleter
	model  string
	logger *LLMLogger

	mu       sync.Mutex
	accepted []*Question
}

// DedupResult represents the result of deduplication
type DedupResult struct {
	IsDuplicate bool   `json:"is_duplicate"`
	Reason      string `json:"reason"`
	DuplicateID string `json:"duplicate_id,omitempty"`
}

// NewQuestionDedup creates a new question deduplicator
func NewQuestionDedup(apiKey string) *QuestionDedup {
	return NewQuestionDedupWithClient(NewOpenAIClient(apiKey, ""), DefaultModel)
}

// NewQuestionDedupWithClient creates a deduplicator on an existing client
func NewQuestionDedupWithClient(client ChatCompleter, model string) *QuestionDedup {
	return &QuestionDedup{client: client, model: model}
}

// SetLogger sets the transcript logger
func (qd *QuestionDedup) SetLogger(logger *LLMLogger) {
	qd.logger = logger
}

// Seed registers already accepted questions without asking the model.
func (qd *QuestionDedup) Seed(questions ...*Question) {
	qd.mu.Lock()
	defer qd.mu.Unlock()
	qd.accepted = append(qd.accepted, questions...)
}

// CheckDuplicate checks if a question duplicates any previously accepted
// question. Unique questions are remembered.
func (qd *QuestionDedup) CheckDuplicate(ctx context.Context, question *Question) (*DedupResult, error) {
	qd.mu.Lock()
	if len(qd.accepted) == 0 {
		qd.accepted = append(qd.accepted, question)
		qd.mu.Unlock()
		return &DedupResult{IsDuplicate: false, Reason: "First question"}, nil
	}
	existing := append([]*Question(nil), qd.accepted...)
	qd.mu.Unlock()

	VerboseLog("checking for duplicates", "question_id", question.ID, "accepted", len(existing))

	var sb strings.Builder
	sb.WriteString("Existing accepted questions:\n\n")
	for _, q := range existing {
		sb.WriteString(fmt.Sprintf("ID: %s\n", q.ID))
		writeQuestion(&sb, q)
		sb.WriteString("\n")
	}
	sb.WriteString("New question to check:\n\n")
	sb.WriteString(fmt.Sprintf("ID: %s\n", question.ID))
	writeQuestion(&sb, question)
	sb.WriteString("\n")
	sb.WriteString(dedupCriteria)

	args, err := toolCall{
		module: "QuestionDedup",
		model:  qd.model,
		system: "You are an expert at detecting duplicate quiz questions. Compare the new question against existing questions and determine if it's a duplicate.",
		prompt: sb.String(),
		fn: openai.FunctionDefinition{
			Name:        "check_duplicate",
			Description: "Check if the new question is a duplicate of any existing question",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"reason": map[string]interface{}{
						"type":        "string",
						"description": "Explanation for the decision",
					},
					"is_duplicate": map[string]interface{}{
						"type":        "boolean",
						"description": "Whether the new question is a duplicate",
					},
					"duplicate_id": map[string]interface{}{
						"type":        "string",
						"description": "ID of the duplicate question if found (empty if not a duplicate)",
					},
				},
				"required": []string{"reason", "is_duplicate"},
			},
		},
	}.call(ctx, qd.client, qd.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}

	var result DedupResult
	if err := json.Unmarshal([]byte(args), &result); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
	}

	if !result.IsDuplicate {
		qd.Seed(question)
	}

	qd.logger.LogDedupResult(question.ID, result.IsDuplicate, result.Reason, result.DuplicateID)
	VerboseLog("dedup checked", "question_id", question.ID, "duplicate", result.IsDuplicate, "reason", result.Reason)
	return &result, nil
}

const dedupCriteria = `Evaluation criteria for duplicates:

1. EXACT DUPLICATES: same sentence with the same blanks and answers
2. NEAR-DUPLICATES:
   - Same fact blanked out with different wording around it
   - Same sentence with a different word blanked but testing the same knowledge point
3. NOT DUPLICATES:
   - Different facts about the same topic
   - Related but distinct concepts

If the new question is a duplicate, provide the ID of the existing question it duplicates.

Decide whether the new question is a duplicate of any existing question.`
