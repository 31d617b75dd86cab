package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/google/uuid"

	"mail-pilot/internal/domain"
	"mail-pilot/internal/integrations/webhook"
)

const defaultModel = "gpt-4o-mini"

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, payload any) (json.RawMessage, error)
}

type TranscriptStore interface {
	Begin(ctx context.Context, sessionID, prompt string) (domain.Entry, error)
	Resolve(ctx context.Context, sessionID string, entryID int64, o domain.Outcome) (domain.Entry, error)
	List(ctx context.Context, sessionID string) ([]domain.Entry, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type SendConfig struct {
	Mode            domain.Mode
	MinPromptLength int
	Model           string
}

// SendService runs the prompt -> (extraction) -> dispatch -> reconciliation
// workflow. In ModePassthrough the LLM client is unused and may be nil.
type SendService struct {
	llm         LLMClient
	dispatcher  Dispatcher
	transcripts TranscriptStore
	prompt      *extractionPrompt
	mode        domain.Mode
	minLen      int
	model       string
	logger      *slog.Logger
}

type SubmitInput struct {
	SessionID string
	Prompt    string
}

type SubmitOutput struct {
	SessionID string
	Outcome   domain.Outcome
	Entry     domain.Entry
}

func NewSendService(llm LLMClient, d Dispatcher, t TranscriptStore, cfg SendConfig, logger *slog.Logger) (*SendService, error) {
	if d == nil {
		return nil, errors.New("usecase: dispatcher must not be nil")
	}
	if t == nil {
		return nil, errors.New("usecase: transcript store must not be nil")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = domain.ModeExtract
	}
	if mode == domain.ModeExtract && llm == nil {
		return nil, errors.New("usecase: llm client must not be nil in extract mode")
	}
	minLen := cfg.MinPromptLength
	if minLen <= 0 {
		minLen = mode.DefaultMinPromptLength()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	prompt, err := loadExtractionPrompt(extractPromptYAML)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SendService{
		llm:         llm,
		dispatcher:  d,
		transcripts: t,
		prompt:      prompt,
		mode:        mode,
		minLen:      minLen,
		model:       model,
		logger:      logger,
	}, nil
}

func (s *SendService) Mode() domain.Mode { return s.mode }

func (s *SendService) MinPromptLength() int { return s.minLen }

// Validate rejects prompts below the minimum length. It never touches the network.
func (s *SendService) Validate(prompt string) error {
	if err := validatePrompt(prompt, s.minLen); err != nil {
		return newError(ErrorValidation, "prompt_too_short", validationMessage(s.minLen), err)
	}
	return nil
}

// Submit delivers a prompt within a session transcript. The session's newest
// pending entry locks it against resubmission until the dispatch resolves.
func (s *SendService) Submit(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
	if err := s.Validate(in.Prompt); err != nil {
		return SubmitOutput{}, err
	}
	prompt := strings.TrimSpace(in.Prompt)
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}

	pending, err := s.transcripts.Begin(ctx, sessionID, prompt)
	if err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			return SubmitOutput{}, newError(ErrorInFlight, "session_busy", "Please wait for the current request to finish.", err)
		}
		return SubmitOutput{}, newError(ErrorInternal, "transcript_begin_error", unknownErrorMessage, err)
	}

	data, deliverErr := s.deliver(ctx, prompt)
	outcome := s.reconcile(ctx, data, deliverErr)

	// The entry must leave pending even if the caller has gone away.
	entry, err := s.transcripts.Resolve(context.WithoutCancel(ctx), sessionID, pending.ID, outcome)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to resolve transcript entry", "session_id", sessionID, "entry_id", pending.ID, "err", err)
		entry = pending.Apply(outcome)
	}
	return SubmitOutput{SessionID: sessionID, Outcome: outcome, Entry: entry}, nil
}

// Transcript returns the session's entries in order.
func (s *SendService) Transcript(ctx context.Context, sessionID string) ([]domain.Entry, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return []domain.Entry{}, nil
	}
	entries, err := s.transcripts.List(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorInternal, "transcript_list_error", unknownErrorMessage, err)
	}
	return entries, nil
}

// Extract asks the language model for the recipient and message. No retries.
func (s *SendService) Extract(ctx context.Context, prompt string) (domain.ExtractionResult, error) {
	if s.llm == nil {
		return domain.ExtractionResult{}, newError(ErrorExtraction, "extraction_unavailable", unknownErrorMessage, nil)
	}
	messages, err := s.prompt.messages(prompt)
	if err != nil {
		return domain.ExtractionResult{}, newError(ErrorExtraction, "prompt_render_error", unknownErrorMessage, err)
	}
	raw, err := s.llm.Chat(ctx, s.model, messages)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return domain.ExtractionResult{}, newError(ErrorExtraction, "extraction_rate_limited", "The assistant is busy right now. Please try again shortly.", err)
		}
		return domain.ExtractionResult{}, newError(ErrorExtraction, "extraction_error", "The assistant could not process your prompt. Please try again.", err)
	}
	result, err := parseExtraction(raw)
	if err != nil {
		return domain.ExtractionResult{}, newError(ErrorExtraction, "extraction_invalid", "Could not find a valid email address and message in your prompt.", err)
	}
	return result, nil
}

func (s *SendService) deliver(ctx context.Context, prompt string) (domain.OutcomeData, error) {
	if s.mode == domain.ModePassthrough {
		raw, err := s.dispatcher.Dispatch(ctx, domain.PromptPayload{Prompt: prompt})
		if err != nil {
			return domain.OutcomeData{}, dispatchError(err)
		}
		output, err := webhook.Output(raw)
		if err != nil {
			return domain.OutcomeData{}, dispatchError(err)
		}
		return domain.OutcomeData{Prompt: prompt, WebhookResponse: output}, nil
	}

	extracted, err := s.Extract(ctx, prompt)
	if err != nil {
		return domain.OutcomeData{}, err
	}
	if _, err := s.dispatcher.Dispatch(ctx, domain.MessagePayload{Message: extracted}); err != nil {
		return domain.OutcomeData{}, dispatchError(err)
	}
	return domain.OutcomeData{Email: extracted.Email, Message: extracted.Message}, nil
}

func (s *SendService) reconcile(ctx context.Context, data domain.OutcomeData, err error) domain.Outcome {
	if err != nil {
		e := AsError(err)
		s.logger.ErrorContext(ctx, "delivery failed", "code", e.Code, "reason", e.Reason, "err", e.Err)
	}
	return Reconcile(s.mode, data, err)
}

// Reconcile maps a delivery result to its terminal Outcome. It is pure, so
// reconciling the same result twice yields the same Outcome.
func Reconcile(mode domain.Mode, data domain.OutcomeData, err error) domain.Outcome {
	if err != nil {
		return domain.Outcome{Status: domain.StatusError, Message: UserMessage(err)}
	}
	message := "Prompt successfully sent."
	if mode == domain.ModeExtract {
		message = fmt.Sprintf("Email successfully sent to %s.", data.Email)
	}
	return domain.Outcome{Status: domain.StatusSuccess, Message: message, Data: &data}
}

func dispatchError(err error) *Error {
	var statusErr *webhook.HTTPStatusError
	if errors.As(err, &statusErr) {
		return newError(ErrorDispatch, "webhook_status", fmt.Sprintf("The service failed. Status: %d.", statusErr.StatusCode), err)
	}
	var formatErr *webhook.FormatError
	if errors.As(err, &formatErr) {
		return newError(ErrorDispatch, "webhook_format", "Invalid response format from webhook.", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return newError(ErrorDispatch, "webhook_timeout", "The service did not respond in time.", err)
	}
	return newError(ErrorDispatch, "webhook_unreachable", "The service could not be reached.", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
