package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"mail-pilot/internal/domain"
	"mail-pilot/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type UseCase interface {
	Submit(ctx context.Context, in usecase.SubmitInput) (usecase.SubmitOutput, error)
	Transcript(ctx context.Context, sessionID string) ([]domain.Entry, error)
}

type submitRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"sessionId"`
}

type submitResponse struct {
	SessionID string               `json:"sessionId"`
	Status    domain.OutcomeStatus `json:"status"`
	Message   string               `json:"message"`
	Data      *domain.OutcomeData  `json:"data,omitempty"`
	Entry     domain.Entry         `json:"entry"`
}

type transcriptResponse struct {
	SessionID string         `json:"sessionId"`
	Entries   []domain.Entry `json:"entries"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler serves the JSON API behind API Gateway proxy events.
type Handler struct {
	uc     UseCase
	logger *slog.Logger
}

func NewHandler(uc UseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, logger: slog.Default()}, nil
}

// WithLogger replaces the default logger.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.logger.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	var resp events.APIGatewayProxyResponse
	switch {
	case req.HTTPMethod == http.MethodPost && strings.HasSuffix(req.Path, "/api/submit"):
		resp = h.submit(ctx, log, req)
	case req.HTTPMethod == http.MethodGet && strings.HasSuffix(req.Path, "/api/transcript"):
		resp = h.transcript(ctx, log, req)
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "route not found"})
	}
	resp.Headers[correlationHeader] = correlationID
	return resp, nil
}

func (h *Handler) submit(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var body submitRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		log.WarnContext(ctx, "invalid request body", "err", err)
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorValidation), Message: "invalid JSON body"})
	}

	out, err := h.uc.Submit(ctx, usecase.SubmitInput{Prompt: body.Prompt, SessionID: body.SessionID})
	if err != nil {
		return h.errorResponse(ctx, log, err)
	}
	log.InfoContext(ctx, "submission resolved", "session_id", out.SessionID, "entry_id", out.Entry.ID, "status", out.Outcome.Status)
	return jsonResponse(http.StatusOK, submitResponse{
		SessionID: out.SessionID,
		Status:    out.Outcome.Status,
		Message:   out.Outcome.Message,
		Data:      out.Outcome.Data,
		Entry:     out.Entry,
	})
}

func (h *Handler) transcript(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	sessionID := strings.TrimSpace(req.QueryStringParameters["sessionId"])
	if sessionID == "" {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorValidation), Message: "sessionId is required"})
	}
	entries, err := h.uc.Transcript(ctx, sessionID)
	if err != nil {
		return h.errorResponse(ctx, log, err)
	}
	return jsonResponse(http.StatusOK, transcriptResponse{SessionID: sessionID, Entries: entries})
}

func (h *Handler) errorResponse(ctx context.Context, log *slog.Logger, err error) events.APIGatewayProxyResponse {
	e := usecase.AsError(err)
	status := statusFor(e.Code)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(ctx, "request failed", "code", e.Code, "reason", e.Reason, "err", err)
	} else {
		log.InfoContext(ctx, "request rejected", "code", e.Code, "reason", e.Reason)
	}
	code := e.Code
	if code == usecase.ErrorUnknown {
		code = usecase.ErrorInternal
	}
	return jsonResponse(status, errorResponse{Error: string(code), Message: usecase.UserMessage(e)})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorValidation:
		return http.StatusBadRequest
	case usecase.ErrorInFlight:
		return http.StatusConflict
	case usecase.ErrorExtraction, usecase.ErrorDispatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"An unknown error occurred."}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
