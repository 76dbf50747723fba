package blankquiz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = openai.GPT4o

var errNoToolCall = errors.New("no tool calls in response")

// ChatCompleter is the part of the OpenAI client used here. *openai.Client
// satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient creates an OpenAI client, optionally against a
// compatible endpoint.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// toolCall is one forced function call against the chat API.
type toolCall struct {
	module string // label used in transcripts
	model  string
	system string
	prompt string
	fn     openai.FunctionDefinition
}

// call runs the request and returns the raw JSON arguments of the tool call.
func (tc toolCall) call(ctx context.Context, client ChatCompleter, logger *LLMLogger) (string, error) {
	logger.LogLLMRequest(tc.module, tc.prompt)

	model := tc.model
	if model == "" {
		model = DefaultModel
	}
	fn := tc.fn

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: tc.system},
			{Role: openai.ChatMessageRoleUser, Content: tc.prompt},
		},
		Tools: []openai.Tool{{Type: openai.ToolTypeFunction, Function: &fn}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: fn.Name},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from %s", model)
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return "", errNoToolCall
	}
	if calls[0].Function.Name != fn.Name {
		return "", fmt.Errorf("unexpected tool call: %s", calls[0].Function.Name)
	}

	logger.LogLLMResponse(tc.module, calls[0].Function.Arguments)
	return calls[0].Function.Arguments, nil
}

// draftQuestion is the question shape exchanged with the model.
type draftQuestion struct {
	Text        string  `json:"text"`
	Blanks      []Blank `json:"blanks"`
	Explanation string  `json:"explanation"`
}

func (d draftQuestion) toQuestion(id, topic string, status QuestionStatus) *Question {
	q := &Question{ID: id, Topic: topic, Status: status}
	q.Apply(QuestionForm{QuestionText: d.Text, Explanation: d.Explanation, Blanks: blankForms(d.Blanks)})
	return q
}

func blankForms(blanks []Blank) []BlankForm {
	forms := make([]BlankForm, len(blanks))
	for i, b := range blanks {
		forms[i] = BlankForm{
			Position:         b.Position,
			CorrectAnswer:    b.CorrectAnswer,
			AnswerVariations: b.AnswerVariations,
			CaseSensitive:    b.CaseSensitive,
		}
	}
	return forms
}

func questionSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Question text with one [blank_N] tag per blank, numbered from 1",
			},
			"blanks": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"position": map[string]interface{}{
							"type":        "integer",
							"description": "N of the matching [blank_N] tag",
						},
						"correct_answer": map[string]interface{}{
							"type":        "string",
							"description": "The expected answer for this blank",
						},
						"answer_variations": map[string]interface{}{
							"type":        "array",
							"items":       map[string]interface{}{"type": "string"},
							"description": "Other accepted spellings or synonyms",
						},
						"case_sensitive": map[string]interface{}{
							"type":        "boolean",
							"description": "Whether answers must match case",
						},
					},
					"required": []string{"position", "correct_answer"},
				},
			},
			"explanation": map[string]interface{}{
				"type":        "string",
				"description": "Brief explanation of why the answers are correct",
			},
		},
		"required": []string{"text", "blanks", "explanation"},
	}
}

func writeQuestion(sb *strings.Builder, q *Question) {
	sb.WriteString(fmt.Sprintf("Question: %s\n", q.Text))
	sb.WriteString("Blanks:\n")
	for _, b := range q.Blanks {
		sb.WriteString(fmt.Sprintf("  %s = %q", FormatBlankTag(b.Position), b.CorrectAnswer))
		if len(b.AnswerVariations) > 0 {
			sb.WriteString(fmt.Sprintf(" (also: %s)", strings.Join(b.AnswerVariations, ", ")))
		}
		if b.CaseSensitive {
			sb.WriteString(" [case sensitive]")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("Explanation: %s\n", q.Explanation))
}
