package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"blankquiz"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"
)

const maxBodyBytes = 1 << 20

type createQuizRequest struct {
	Title          string   `json:"title"`
	Topic          string   `json:"topic"`
	NumQuestions   int      `json:"num_questions"`
	SourceMaterial string   `json:"source_material"`
	Difficulty     string   `json:"difficulty"`
	ModuleIDs      []string `json:"module_ids"`
	// CourseID is required when ModuleIDs is set.
	CourseID string `json:"course_id"`
}

type validateRequest struct {
	blankquiz.QuestionForm
	// Positions overrides the blank positions when set, for validating raw
	// text without blank definitions.
	Positions []int `json:"positions,omitempty"`
}

type validateResponse struct {
	Report blankquiz.BlankTextReport `json:"report"`
	Form   blankquiz.FormErrors      `json:"form"`
}

type exportRequest struct {
	CourseID string `json:"course_id"`
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := s.db.ListQuizzes(r.Context(), 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"quizzes": quizzes})
}

func (s *Server) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		writeMessage(w, http.StatusBadRequest, "Topic is required")
		return
	}
	if req.NumQuestions <= 0 {
		req.NumQuestions = 10
	}
	if req.NumQuestions > blankquiz.MaxQuestions {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("num_questions must be at most %d", blankquiz.MaxQuestions))
		return
	}

	if len(req.ModuleIDs) > 0 {
		material, ok := s.moduleMaterial(w, r, req.CourseID, req.ModuleIDs)
		if !ok {
			return
		}
		req.SourceMaterial = strings.TrimSpace(material + "\n\n" + req.SourceMaterial)
	}

	quiz := &blankquiz.Quiz{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(req.Title),
		Topic:          req.Topic,
		ModuleIDs:      req.ModuleIDs,
		NumQuestions:   req.NumQuestions,
		SourceMaterial: req.SourceMaterial,
		Difficulty:     req.Difficulty,
		Status:         blankquiz.QuizGenerating,
		CreatedAt:      time.Now(),
	}
	if err := s.db.CreateQuiz(r.Context(), quiz); err != nil {
		s.writeError(w, err)
		return
	}

	s.wg.Add(1)
	go s.generate(quiz)

	writeJSON(w, http.StatusAccepted, quiz)
}

// moduleMaterial fetches the text of the selected Canvas modules. It
// writes the error response itself and reports false on failure.
func (s *Server) moduleMaterial(w http.ResponseWriter, r *http.Request, courseID string, moduleIDs []string) (string, bool) {
	if strings.TrimSpace(courseID) == "" {
		writeMessage(w, http.StatusBadRequest, "course_id is required when module_ids is set")
		return "", false
	}
	cs, ok := s.canvasClient(w, r)
	if !ok {
		return "", false
	}
	material, err := cs.ModuleText(r.Context(), courseID, moduleIDs)
	s.persistToken(w, r, cs)
	if err != nil {
		s.writeError(w, err)
		return "", false
	}
	blankquiz.Logger().Infow("loaded module material", "course_id", courseID, "modules", len(moduleIDs), "chars", len(material))
	return material, true
}

// generate runs question generation for a quiz in the background
func (s *Server) generate(quiz *blankquiz.Quiz) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.jobCtx, s.jobTTL)
	defer cancel()

	generator := blankquiz.NewQuizGeneratorWithClient(s.llm, s.cfg.OpenAI.Model)

	req := blankquiz.GenerationRequest{
		Topic:          quiz.Topic,
		NumQuestions:   quiz.NumQuestions,
		SourceMaterial: quiz.SourceMaterial,
		Difficulty:     quiz.Difficulty,
	}
	transcript, err := blankquiz.NewLLMLogger(s.cfg.LogDir, quiz.ID, req)
	if err != nil {
		// continue without a transcript rather than failing
		blankquiz.Logger().Warnw("failed to create transcript logger", "quiz_id", quiz.ID, "error", err)
	} else {
		generator.SetLogger(transcript)
		defer transcript.Close()
	}

	_ = s.db.GenerateQuiz(ctx, generator, quiz)
}

func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := s.db.GetQuiz(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	count, err := s.db.CountQuestions(r.Context(), quiz.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quiz":               quiz,
		"questions_received": count,
	})
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	quizID := r.PathValue("id")
	if _, err := s.db.GetQuiz(r.Context(), quizID); err != nil {
		s.writeError(w, err)
		return
	}

	var status blankquiz.QuestionStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := blankquiz.ParseQuestionStatus(raw)
		if !ok {
			writeMessage(w, http.StatusBadRequest, "Unknown status: "+raw)
			return
		}
		status = parsed
	}

	questions, err := s.db.ListQuestions(r.Context(), quizID, status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

func (s *Server) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var form blankquiz.QuestionForm
	if !decodeJSON(w, r, &form) {
		return
	}
	q, err := s.db.UpdateQuestion(r.Context(), r.PathValue("id"), form)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleSetStatus(status blankquiz.QuestionStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := s.db.SetQuestionStatus(r.Context(), r.PathValue("id"), status)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	positions := req.Positions
	if positions == nil {
		positions = make([]int, 0, len(req.Blanks))
		for _, b := range req.Blanks {
			positions = append(positions, b.Position)
		}
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Report: blankquiz.ValidateBlankText(req.QuestionText, positions),
		Form:   blankquiz.ValidateQuestionForm(req.QuestionForm),
	})
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.canvasClient(w, r)
	if !ok {
		return
	}
	modules, err := cs.ListModules(r.Context(), r.PathValue("courseID"))
	s.persistToken(w, r, cs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"modules": modules})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.CourseID) == "" {
		writeMessage(w, http.StatusBadRequest, "course_id is required")
		return
	}

	cs, ok := s.canvasClient(w, r)
	if !ok {
		return
	}

	quiz, err := s.db.GetQuiz(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	questions, err := s.db.ListQuestions(r.Context(), quiz.ID, blankquiz.StatusApproved)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(questions) == 0 {
		writeMessage(w, http.StatusConflict, "Quiz has no approved questions")
		return
	}

	canvasID, err := cs.ExportQuiz(r.Context(), req.CourseID, quiz, questions)
	s.persistToken(w, r, cs)
	if err != nil {
		blankquiz.Logger().Errorw("export failed", "quiz_id", quiz.ID, "canvas_quiz_id", canvasID, "error", err)
		s.writeError(w, err)
		return
	}
	if err := s.db.SetCanvasQuizID(r.Context(), quiz.ID, canvasID); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quiz_id":        quiz.ID,
		"canvas_quiz_id": canvasID,
		"exported":       len(questions),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	session, _ := s.store.Get(r, sessionName)
	state := uuid.NewString()
	session.Values["oauth_state"] = state
	if err := session.Save(r, w); err != nil {
		blankquiz.Logger().Errorw("session save error", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to start login")
		return
	}
	http.Redirect(w, r, s.cfg.Canvas.OAuth2().AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	session, _ := s.store.Get(r, sessionName)
	expected, _ := session.Values["oauth_state"].(string)
	if expected == "" || r.URL.Query().Get("state") != expected {
		writeMessage(w, http.StatusBadRequest, "Invalid OAuth state")
		return
	}
	// the state is single use, whatever the outcome
	delete(session.Values, "oauth_state")

	code := r.URL.Query().Get("code")
	if code == "" {
		s.saveSession(w, r, session)
		writeMessage(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	tok, err := s.cfg.Canvas.OAuth2().Exchange(r.Context(), code)
	if err != nil {
		blankquiz.Logger().Warnw("token exchange failed", "error", err)
		s.saveSession(w, r, session)
		writeMessage(w, http.StatusBadGateway, "Canvas login failed")
		return
	}

	session.Values["canvas_token"] = newCanvasToken(tok)
	if err := session.Save(r, w); err != nil {
		blankquiz.Logger().Errorw("session save error", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to save session")
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// canvasSession is a Canvas client authorized by the session token.
type canvasSession struct {
	*blankquiz.CanvasClient
	tokens oauth2.TokenSource
	stored canvasToken
}

// canvasClient builds a Canvas client from the session token, answering
// 401 when the user has not logged in.
func (s *Server) canvasClient(w http.ResponseWriter, r *http.Request) (*canvasSession, bool) {
	session, _ := s.store.Get(r, sessionName)
	stored, ok := session.Values["canvas_token"].(canvasToken)
	if !ok || stored.AccessToken == "" {
		writeMessage(w, http.StatusUnauthorized, "Canvas login required")
		return nil, false
	}
	tokens := s.cfg.Canvas.TokenSource(r.Context(), stored.token())
	return &canvasSession{
		CanvasClient: s.cfg.Canvas.Client(r.Context(), tokens),
		tokens:       tokens,
		stored:       stored,
	}, true
}

// persistToken saves a token refreshed during the request back into the
// session. Call it after the Canvas calls and before writing the response.
func (s *Server) persistToken(w http.ResponseWriter, r *http.Request, cs *canvasSession) {
	tok, err := cs.tokens.Token()
	if err != nil {
		blankquiz.Logger().Warnw("canvas token unavailable", "error", err)
		return
	}
	if tok.AccessToken == cs.stored.AccessToken && tok.Expiry.Equal(cs.stored.Expiry) {
		return
	}
	session, _ := s.store.Get(r, sessionName)
	session.Values["canvas_token"] = newCanvasToken(tok)
	s.saveSession(w, r, session)
	blankquiz.VerboseLog("stored refreshed canvas token", "expiry", tok.Expiry)
}

func (s *Server) saveSession(w http.ResponseWriter, r *http.Request, session *sessions.Session) {
	if err := session.Save(r, w); err != nil {
		blankquiz.Logger().Errorw("session save error", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var formErrs *blankquiz.FormErrors
	var canvasErr *blankquiz.CanvasError
	switch {
	case errors.As(err, &formErrs):
		writeJSON(w, http.StatusUnprocessableEntity, formErrs)
	case errors.Is(err, blankquiz.ErrQuizNotFound), errors.Is(err, blankquiz.ErrQuestionNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, blankquiz.ErrNotSynchronized):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.As(err, &canvasErr):
		writeMessage(w, http.StatusBadGateway, err.Error())
	default:
		blankquiz.Logger().Errorw("request failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		blankquiz.Logger().Warnw("failed to write response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
