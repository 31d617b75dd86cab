package usecase

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"mail-pilot/internal/domain"
)

//go:embed prompts/extract_email_and_message.yaml
var extractPromptYAML []byte

var validate = validator.New()

type promptSpec struct {
	Name   string `yaml:"name"`
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type extractionPrompt struct {
	system string
	user   *template.Template
}

func loadExtractionPrompt(raw []byte) (*extractionPrompt, error) {
	var spec promptSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("usecase: parse prompt spec: %w", err)
	}
	if strings.TrimSpace(spec.System) == "" || strings.TrimSpace(spec.User) == "" {
		return nil, errors.New("usecase: prompt spec needs system and user templates")
	}
	tmpl, err := template.New(spec.Name).Option("missingkey=error").Parse(spec.User)
	if err != nil {
		return nil, fmt.Errorf("usecase: parse user template: %w", err)
	}
	return &extractionPrompt{system: strings.TrimSpace(spec.System), user: tmpl}, nil
}

func (p *extractionPrompt) messages(prompt string) ([]domain.ChatMessage, error) {
	var b strings.Builder
	if err := p.user.Execute(&b, struct{ Prompt string }{Prompt: prompt}); err != nil {
		return nil, fmt.Errorf("usecase: render user template: %w", err)
	}
	return []domain.ChatMessage{
		{Role: "system", Content: p.system},
		{Role: "user", Content: strings.TrimSpace(b.String())},
	}, nil
}

// extractionWire mirrors the response schema. Both fields must be present;
// pointers tell a missing message apart from an empty one.
type extractionWire struct {
	Email   *string `json:"email"`
	Message *string `json:"message"`
}

// parseExtraction decodes exactly one {email, message} object and validates it.
func parseExtraction(raw string) (domain.ExtractionResult, error) {
	var wire extractionWire
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("usecase: decode extraction: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return domain.ExtractionResult{}, errors.New("usecase: decode extraction: multiple JSON values")
		}
		return domain.ExtractionResult{}, fmt.Errorf("usecase: decode extraction trailing data: %w", err)
	}
	if wire.Email == nil || wire.Message == nil {
		return domain.ExtractionResult{}, errors.New("usecase: decode extraction: email and message are required")
	}
	out := domain.ExtractionResult{
		Email:   strings.TrimSpace(*wire.Email),
		Message: strings.TrimSpace(*wire.Message),
	}
	if err := validate.Struct(out); err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("usecase: invalid extraction: %w", err)
	}
	return out, nil
}

// validatePrompt enforces the minimum length in characters, ignoring
// surrounding whitespace.
func validatePrompt(prompt string, minLen int) error {
	return validate.Var(strings.TrimSpace(prompt), fmt.Sprintf("required,min=%d", minLen))
}

func validationMessage(minLen int) string {
	if minLen <= 1 {
		return "Please enter a message."
	}
	return fmt.Sprintf("Please provide a more detailed prompt (at least %d characters).", minLen)
}
