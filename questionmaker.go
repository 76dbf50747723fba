package blankquiz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// QuestionMaker drafts fill-in-the-blank questions with an LLM
type QuestionMaker struct {
	client ChatCompleter
	model  string
	logger *LLMLogger
}

// NewQuestionMaker creates a new question maker with OpenAI client
func NewQuestionMaker(apiKey string) *QuestionMaker {
	return NewQuestionMakerWithClient(NewOpenAIClient(apiKey, ""), DefaultModel)
}

// NewQuestionMakerWithClient creates a question maker on an existing client
func NewQuestionMakerWithClient(client ChatCompleter, model string) *QuestionMaker {
	return &QuestionMaker{client: client, model: model}
}

// SetLogger sets the transcript logger
func (qm *QuestionMaker) SetLogger(logger *LLMLogger) {
	qm.logger = logger
}

// GenerateQuestions generates a batch of questions for the given topic.
// Drafts whose text and blanks disagree are dropped.
func (qm *QuestionMaker) GenerateQuestions(ctx context.Context, req GenerationRequest, batchSize int) ([]*Question, error) {
	Logger().Infow("generating questions", "batch_size", batchSize, "topic", req.Topic)

	args, err := toolCall{
		module: "QuestionMaker",
		model:  qm.model,
		system: "You are an expert quiz author. Write fill-in-the-blank questions where each blank is marked with a numbered [blank_N] tag.",
		prompt: qm.buildPrompt(req, batchSize),
		fn: openai.FunctionDefinition{
			Name:        "submit_questions",
			Description: "Submit generated fill-in-the-blank questions",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"questions": map[string]interface{}{
						"type":  "array",
						"items": questionSchema(),
					},
				},
				"required": []string{"questions"},
			},
		},
	}.call(ctx, qm.client, qm.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}

	var toolArgs struct {
		Questions []draftQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(args), &toolArgs); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
	}

	questions := make([]*Question, 0, len(toolArgs.Questions))
	for _, draft := range toolArgs.Questions {
		question := draft.toQuestion(uuid.NewString(), req.Topic, StatusPending)
		if fe := question.Validate(); !fe.Valid() {
			qm.logger.LogInvalidQuestion(question.ID, fe)
			Logger().Warnw("dropping drafted question", "question_id", question.ID, "error", fe.Error())
			continue
		}
		questions = append(questions, question)
	}

	Logger().Infow("generated questions", "drafted", len(toolArgs.Questions), "valid", len(questions))
	return questions, nil
}

func (qm *QuestionMaker) buildPrompt(req GenerationRequest, batchSize int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Generate %d fill-in-the-blank questions about: %s\n\n", batchSize, req.Topic))

	if req.SourceMaterial != "" {
		sb.WriteString("Use the following source material as reference:\n")
		sb.WriteString(req.SourceMaterial)
		sb.WriteString("\n\n")
	}

	if req.Difficulty != "" {
		sb.WriteString(fmt.Sprintf("Difficulty level: %s\n\n", req.Difficulty))
	}

	sb.WriteString("Requirements:\n")
	sb.WriteString("- Mark every blank in the text with a tag of the exact form [blank_1], [blank_2], ...\n")
	sb.WriteString("- Number blanks consecutively starting at 1 and use each number once\n")
	sb.WriteString(fmt.Sprintf("- Use between %d and %d blanks per question\n", MinBlanks, MaxBlanks))
	sb.WriteString("- Provide exactly one blank definition per tag, with the same position number\n")
	sb.WriteString("- Each answer should be a short word or phrase with one clearly correct value\n")
	sb.WriteString("- List common alternative spellings or synonyms as answer variations\n")
	sb.WriteString("- Only mark a blank case sensitive when capitalization matters\n")
	sb.WriteString("- Avoid questions where the answer is given away elsewhere in the text\n")
	sb.WriteString("- Provide a brief explanation for why the answers are right\n")
	sb.WriteString("- Use the submit_questions tool to return your questions\n")

	return sb.String()
}
