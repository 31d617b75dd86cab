package domain

import "fmt"

// Mode selects how a prompt becomes a webhook payload.
type Mode string

const (
	// ModeExtract asks the language model for {email, message} and forwards that.
	ModeExtract Mode = "extract"
	// ModePassthrough forwards the raw prompt and expects {"output": "..."} back.
	ModePassthrough Mode = "passthrough"
)

// ParseMode maps a configuration value onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeExtract, ModePassthrough:
		return Mode(s), nil
	case "":
		return ModeExtract, nil
	}
	return "", fmt.Errorf("domain: unknown mode %q", s)
}

// DefaultMinPromptLength is the minimum prompt length for the mode.
func (m Mode) DefaultMinPromptLength() int {
	if m == ModePassthrough {
		return 1
	}
	return 10
}

// ExtractionResult is the validated output of the extraction step. Message
// may be empty; only the address is checked.
type ExtractionResult struct {
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message"`
}

// PromptPayload is the webhook body in passthrough mode.
type PromptPayload struct {
	Prompt string `json:"prompt"`
}

// MessagePayload is the webhook body in extract mode.
type MessagePayload struct {
	Message ExtractionResult `json:"message"`
}

// OutcomeStatus is the UI-visible state of a submission.
type OutcomeStatus string

const (
	StatusIdle    OutcomeStatus = "idle"
	StatusPending OutcomeStatus = "pending"
	StatusSuccess OutcomeStatus = "success"
	StatusError   OutcomeStatus = "error"
)

// Terminal reports whether no further transitions may happen from s.
func (s OutcomeStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// OutcomeData carries what a successful delivery echoes back to the user.
type OutcomeData struct {
	Email           string `json:"email,omitempty"`
	Message         string `json:"message,omitempty"`
	Prompt          string `json:"prompt,omitempty"`
	WebhookResponse string `json:"webhookResponse,omitempty"`
}

// Outcome is the reconciled result of one submission.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
	Data    *OutcomeData  `json:"data,omitempty"`
}
