package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"mail-pilot/internal/domain"
)

//go:embed templates/page.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/page.html"))

// pageView is everything the page template needs for one render.
type pageView struct {
	Action      string
	SessionID   string
	Prompt      string
	MinLength   int
	Placeholder string
	SubmitLabel string
	FieldError  string
	Outcome     *domain.Outcome
	Transcript  []domain.Entry
}

type formState struct {
	sessionID  string
	prompt     string
	fieldError string
	outcome    *domain.Outcome
	transcript []domain.Entry
}

func (s *Server) view(st formState) pageView {
	prompt := st.prompt
	// Clear the field after a successful send; keep it for correction otherwise.
	if st.outcome != nil && st.outcome.Status == domain.StatusSuccess {
		prompt = ""
	}
	v := pageView{
		Action:      s.basePath + "/",
		SessionID:   st.sessionID,
		Prompt:      prompt,
		MinLength:   s.svc.MinPromptLength(),
		Placeholder: `e.g., "Email hello@example.com that I will be late today"`,
		SubmitLabel: "Send Email",
		FieldError:  st.fieldError,
		Outcome:     st.outcome,
		Transcript:  st.transcript,
	}
	if s.svc.Mode() == domain.ModePassthrough {
		v.Placeholder = "Type your message..."
		v.SubmitLabel = "Send"
	}
	return v
}

func renderPage(w io.Writer, v pageView) error {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, v); err != nil {
		return fmt.Errorf("server: render page: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}
