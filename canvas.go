package blankquiz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// CanvasQuestionType is the Canvas classic quiz type for [blank_N] questions
const CanvasQuestionType = "fill_in_multiple_blanks_question"

const canvasUploadConcurrency = 4

// CanvasConfig holds the Canvas LMS instance and OAuth2 developer key.
type CanvasConfig struct {
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// OAuth2 returns the OAuth2 configuration for the Canvas instance.
func (c CanvasConfig) OAuth2() *oauth2.Config {
	base := strings.TrimRight(c.BaseURL, "/")
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + "/login/oauth2/auth",
			TokenURL: base + "/login/oauth2/token",
		},
	}
}

// TokenSource returns tok until it expires, then refreshes it once and
// reuses the refreshed token. Callers persist Token() when it changes.
func (c CanvasConfig) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(tok, c.OAuth2().TokenSource(ctx, tok))
}

// Client returns a Canvas API client authorized by ts.
func (c CanvasConfig) Client(ctx context.Context, ts oauth2.TokenSource) *CanvasClient {
	return NewCanvasClient(c.BaseURL, oauth2.NewClient(ctx, ts))
}

// CanvasError is a non-2xx response from the Canvas API.
type CanvasError struct {
	StatusCode int
	Body       string
}

func (e *CanvasError) Error() string {
	return fmt.Sprintf("canvas api returned %d: %s", e.StatusCode, e.Body)
}

// CanvasClient talks to the Canvas REST API
type CanvasClient struct {
	baseURL string
	http    *http.Client
}

// NewCanvasClient creates a client. httpClient must add authorization.
func NewCanvasClient(baseURL string, httpClient *http.Client) *CanvasClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CanvasClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// CanvasModule is a course module the quiz material can come from
type CanvasModule struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Position   int    `json:"position"`
	ItemsCount int    `json:"items_count"`
	Published  bool   `json:"published"`
}

// ListModules lists the modules of a course
func (c *CanvasClient) ListModules(ctx context.Context, courseID string) ([]CanvasModule, error) {
	var modules []CanvasModule
	path := fmt.Sprintf("/api/v1/courses/%s/modules?per_page=100", url.PathEscape(courseID))
	if err := c.do(ctx, http.MethodGet, path, nil, &modules); err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	return modules, nil
}

// CanvasModuleItem is one entry of a module. PageURL is set for pages.
type CanvasModuleItem struct {
	ID       int64  `json:"id"`
	ModuleID int64  `json:"module_id"`
	Position int    `json:"position"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	PageURL  string `json:"page_url,omitempty"`
}

// CanvasPage is a wiki page; Body is HTML.
type CanvasPage struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ModuleItems lists the items of one module
func (c *CanvasClient) ModuleItems(ctx context.Context, courseID, moduleID string) ([]CanvasModuleItem, error) {
	var items []CanvasModuleItem
	path := fmt.Sprintf("/api/v1/courses/%s/modules/%s/items?per_page=100", url.PathEscape(courseID), url.PathEscape(moduleID))
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, fmt.Errorf("failed to list items of module %s: %w", moduleID, err)
	}
	return items, nil
}

// Page fetches a course page by its url slug
func (c *CanvasClient) Page(ctx context.Context, courseID, pageURL string) (*CanvasPage, error) {
	var page CanvasPage
	path := fmt.Sprintf("/api/v1/courses/%s/pages/%s", url.PathEscape(courseID), url.PathEscape(pageURL))
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch page %s: %w", pageURL, err)
	}
	return &page, nil
}

// ModuleText collects the plain text of every page in the given modules,
// in module then item order, as source material for generation. Items
// that are not pages contribute their title only.
func (c *CanvasClient) ModuleText(ctx context.Context, courseID string, moduleIDs []string) (string, error) {
	var sb strings.Builder
	for _, moduleID := range moduleIDs {
		items, err := c.ModuleItems(ctx, courseID, moduleID)
		if err != nil {
			return "", err
		}
		for _, item := range items {
			if item.Type != "Page" || item.PageURL == "" {
				if item.Type != "SubHeader" && item.Title != "" {
					fmt.Fprintf(&sb, "%s\n\n", item.Title)
				}
				continue
			}
			page, err := c.Page(ctx, courseID, item.PageURL)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "## %s\n%s\n\n", page.Title, plainText(page.Body))
		}
		VerboseLog("collected module material", "course_id", courseID, "module_id", moduleID, "items", len(items))
	}
	return strings.TrimSpace(sb.String()), nil
}

var reHTMLTag = regexp.MustCompile(`<[^>]+>`)

// plainText strips tags from a page body and collapses whitespace.
func plainText(body string) string {
	text := html.UnescapeString(reHTMLTag.ReplaceAllString(body, " "))
	return strings.Join(strings.Fields(text), " ")
}

type canvasQuiz struct {
	ID          int64  `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	QuizType    string `json:"quiz_type"`
	Published   bool   `json:"published"`
}

type canvasAnswer struct {
	BlankID      string `json:"blank_id"`
	AnswerText   string `json:"answer_text"`
	AnswerWeight int    `json:"answer_weight"`
}

type canvasQuestion struct {
	QuestionName    string         `json:"question_name"`
	QuestionText    string         `json:"question_text"`
	QuestionType    string         `json:"question_type"`
	PointsPossible  float64        `json:"points_possible"`
	Position        int            `json:"position"`
	NeutralComments string         `json:"neutral_comments,omitempty"`
	Answers         []canvasAnswer `json:"answers"`
}

// canvasQuestionFor converts a question into the Canvas payload. Each
// [blank_N] tag becomes the blank id "blank_N".
func canvasQuestionFor(q *Question, position int) canvasQuestion {
	cq := canvasQuestion{
		QuestionName:    fmt.Sprintf("Question %d", position),
		QuestionText:    q.Text,
		QuestionType:    CanvasQuestionType,
		PointsPossible:  1,
		Position:        position,
		NeutralComments: q.Explanation,
	}
	for _, b := range q.Blanks {
		blankID := strings.Trim(FormatBlankTag(b.Position), "[]")
		for _, answer := range b.acceptedAnswers() {
			cq.Answers = append(cq.Answers, canvasAnswer{BlankID: blankID, AnswerText: answer, AnswerWeight: 100})
		}
	}
	return cq
}

// ExportQuiz creates an unpublished Canvas quiz holding the given questions
// and returns its Canvas id. Every question must pass validation.
func (c *CanvasClient) ExportQuiz(ctx context.Context, courseID string, quiz *Quiz, questions []Question) (string, error) {
	if len(questions) == 0 {
		return "", fmt.Errorf("quiz %s has no questions to export", quiz.ID)
	}
	for i := range questions {
		if fe := questions[i].Validate(); !fe.Valid() {
			return "", fmt.Errorf("question %s: %w: %s", questions[i].ID, ErrNotSynchronized, fe.Error())
		}
	}

	var created canvasQuiz
	body := map[string]canvasQuiz{"quiz": {
		Title:       quiz.Title,
		Description: quiz.Topic,
		QuizType:    "assignment",
	}}
	base := fmt.Sprintf("/api/v1/courses/%s/quizzes", url.PathEscape(courseID))
	if err := c.do(ctx, http.MethodPost, base, body, &created); err != nil {
		return "", fmt.Errorf("failed to create canvas quiz: %w", err)
	}
	canvasID := strconv.FormatInt(created.ID, 10)
	Logger().Infow("created canvas quiz", "quiz_id", quiz.ID, "canvas_quiz_id", canvasID, "questions", len(questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(canvasUploadConcurrency)
	for i := range questions {
		q := &questions[i]
		payload := map[string]canvasQuestion{"question": canvasQuestionFor(q, i+1)}
		g.Go(func() error {
			if err := c.do(gctx, http.MethodPost, base+"/"+canvasID+"/questions", payload, nil); err != nil {
				return fmt.Errorf("failed to upload question %s: %w", q.ID, err)
			}
			VerboseLog("uploaded question", "question_id", q.ID, "canvas_quiz_id", canvasID)
			return nil
		})
	}
	// the partially filled quiz id is returned so it can be cleaned up
	return canvasID, g.Wait()
}

func (c *CanvasClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &CanvasError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
