package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"mail-pilot/internal/domain"
	"mail-pilot/internal/usecase"
)

const maxFormBytes = 64 << 10

type FormService interface {
	Submit(ctx context.Context, in usecase.SubmitInput) (usecase.SubmitOutput, error)
	Transcript(ctx context.Context, sessionID string) ([]domain.Entry, error)
	Mode() domain.Mode
	MinPromptLength() int
}

// APIHandler is the Lambda-shaped JSON API the server exposes under /api.
type APIHandler interface {
	Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
}

type Options struct {
	BasePath      string
	AllowedOrigin string
}

// Server serves the form page and the JSON API for local and container runs.
type Server struct {
	router   *chi.Mux
	svc      FormService
	api      APIHandler
	basePath string
	logger   *slog.Logger
}

func New(svc FormService, api APIHandler, opts Options, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: form service must not be nil")
	}
	if api == nil {
		return nil, errors.New("server: api handler must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	origin := opts.AllowedOrigin
	if origin == "" {
		origin = "*"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Correlation-Id"},
		ExposedHeaders: []string{"X-Correlation-Id"},
		MaxAge:         300,
	}))

	s := &Server{
		router:   r,
		svc:      svc,
		api:      api,
		basePath: strings.TrimRight(opts.BasePath, "/"),
		logger:   logger,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealth)

	app := chi.NewRouter()
	app.Get("/", s.handlePage)
	app.Post("/", s.handleForm)
	app.Post("/api/submit", s.handleAPI)
	app.Get("/api/transcript", s.handleAPI)

	if s.basePath == "" {
		s.router.Mount("/", app)
		return
	}
	s.router.Mount(s.basePath, app)
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handlePage starts a fresh session on every load, so a reload never shows an
// earlier transcript.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.writePage(w, r, http.StatusOK, formState{sessionID: uuid.NewString()})
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	st := formState{
		sessionID: strings.TrimSpace(r.PostFormValue("session_id")),
		prompt:    r.PostFormValue("prompt"),
	}
	if st.sessionID == "" {
		st.sessionID = uuid.NewString()
	}

	out, err := s.svc.Submit(r.Context(), usecase.SubmitInput{SessionID: st.sessionID, Prompt: st.prompt})
	status := http.StatusOK
	if err != nil {
		e := usecase.AsError(err)
		switch e.Code {
		case usecase.ErrorValidation:
			status = http.StatusUnprocessableEntity
			st.fieldError = usecase.UserMessage(e)
		case usecase.ErrorInFlight:
			status = http.StatusConflict
			st.outcome = &domain.Outcome{Status: domain.StatusError, Message: usecase.UserMessage(e)}
		default:
			status = http.StatusInternalServerError
			s.logger.ErrorContext(r.Context(), "form submission failed", "code", e.Code, "reason", e.Reason, "err", err)
			st.outcome = &domain.Outcome{Status: domain.StatusError, Message: usecase.UserMessage(e)}
		}
	} else {
		st.sessionID = out.SessionID
		st.outcome = &out.Outcome
	}

	entries, err := s.svc.Transcript(r.Context(), st.sessionID)
	if err != nil {
		s.logger.WarnContext(r.Context(), "transcript unavailable", "session_id", st.sessionID, "err", err)
	}
	st.transcript = entries
	s.writePage(w, r, status, st)
}

func (s *Server) writePage(w http.ResponseWriter, r *http.Request, status int, st formState) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := renderPage(w, s.view(st)); err != nil {
		s.logger.ErrorContext(r.Context(), "render failed", "err", err)
	}
}

// handleAPI adapts the request to an API Gateway proxy event so local runs
// exercise the same handler as Lambda.
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFormBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := make(map[string]string, len(r.URL.Query()))
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}

	resp, err := s.api.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               headers,
		QueryStringParameters: query,
		Body:                  string(body),
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "api handler failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
