package models

// CompletionRequest is one chat completion: a system prompt, a user prompt and
// whether the model must answer with a JSON object.
type CompletionRequest struct {
	System      string
	User        string
	JSON        bool
	Temperature *float64
	MaxTokens   int
}

// Completion is the model's answer and its token usage.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}
