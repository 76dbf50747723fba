package main

import (
	"context"
	"encoding/gob"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"blankquiz"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"
)

const sessionName = "blankquiz-session"

// canvasToken is the Canvas OAuth2 token kept in the cookie session
type canvasToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

func newCanvasToken(tok *oauth2.Token) canvasToken {
	return canvasToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}

func (t canvasToken) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

func init() {
	gob.Register(canvasToken{})
}

type Server struct {
	db     *blankquiz.DB
	store  *sessions.CookieStore
	cfg    blankquiz.Config
	llm    blankquiz.ChatCompleter
	wg     sync.WaitGroup
	jobTTL time.Duration

	jobCtx    context.Context
	cancelJob context.CancelFunc
}

func NewServer(cfg blankquiz.Config, db *blankquiz.DB, llm blankquiz.ChatCompleter) *Server {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		blankquiz.Logger().Warnw("SESSION_SECRET not set, sessions will not survive a restart")
		secret = securecookie.GenerateRandomKey(32)
	}
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		db:        db,
		store:     store,
		cfg:       cfg,
		llm:       llm,
		jobTTL:    10 * time.Minute,
		jobCtx:    jobCtx,
		cancelJob: cancel,
	}
}

// Wait blocks until background generation jobs have finished
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close cancels running generation jobs and waits for them
func (s *Server) Close() {
	s.cancelJob()
	s.wg.Wait()
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/quizzes", s.handleListQuizzes)
	mux.HandleFunc("POST /api/quizzes", s.handleCreateQuiz)
	mux.HandleFunc("GET /api/quizzes/{id}", s.handleGetQuiz)
	mux.HandleFunc("GET /api/quizzes/{id}/questions", s.handleListQuestions)
	mux.HandleFunc("POST /api/quizzes/{id}/export", s.handleExport)

	mux.HandleFunc("PUT /api/questions/{id}", s.handleUpdateQuestion)
	mux.HandleFunc("POST /api/questions/{id}/approve", s.handleSetStatus(blankquiz.StatusApproved))
	mux.HandleFunc("POST /api/questions/{id}/reject", s.handleSetStatus(blankquiz.StatusRejected))

	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("GET /api/courses/{courseID}/modules", s.handleListModules)

	mux.HandleFunc("GET /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)

	return mux
}

func main() {
	configPath := flag.String("config", "blankquiz.yaml", "Path to YAML config (optional)")
	flag.Parse()

	cfg, err := blankquiz.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := blankquiz.NewLogger(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	blankquiz.SetLogger(logger)
	blankquiz.SetVerbose(cfg.Verbose)

	if cfg.OpenAI.APIKey == "" {
		logger.Fatal("OPENAI_API_KEY environment variable is required")
	}

	db, err := blankquiz.OpenDB(cfg.DBPath)
	if err != nil {
		logger.Fatalw("failed to open database", "error", err)
	}
	defer db.CloseDB()

	if err := db.CreateTables(); err != nil {
		logger.Fatalw("failed to create tables", "error", err)
	}

	server := NewServer(cfg, db, blankquiz.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infow("starting server", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("shutdown failed", "error", err)
	}
	server.Close()
}
