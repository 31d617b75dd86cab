package domain

// ChatMessage is the provider-agnostic message shape the usecase builds and the
// LLM integration translates into its own request type.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
