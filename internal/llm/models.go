// internal/llm/models.go
package llm

// Task identifies one of the fixed LLM-backed operations.
type Task string

const (
	TaskRewrite    Task = "rewrite"
	TaskDraft      Task = "draft"
	TaskSimilarity Task = "similarity"
	TaskGuardrail  Task = "guardrail"
)

// Message is a single role-tagged entry in a chat-completion conversation.
// System messages come first and establish behavioral constraints; the user
// message comes last and carries the task payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// RewriteInput is the payload for the rewrite task. TargetMode, Constraints
// and Audience are optional and default during assembly.
type RewriteInput struct {
	Text        string `json:"text"`
	TargetMode  string `json:"targetMode"`
	Constraints string `json:"constraints"`
	Audience    string `json:"audience"`
}

// DraftInput is the payload for the source-grounded draft task.
type DraftInput struct {
	Sources     []string `json:"sources"`
	WritingGoal string   `json:"writingGoal"`
}

// SimilarityInput is the payload for the similarity-check task.
type SimilarityInput struct {
	Text          string `json:"text"`
	SourcePassage string `json:"sourcePassage"`
}

// GuardrailInput is the payload for the guardrail-classification task.
type GuardrailInput struct {
	Text string `json:"text"`
}

// RewriteOutput is the normalized rewrite result returned to callers.
type RewriteOutput struct {
	Rewritten string   `json:"rewritten"`
	Changes   []string `json:"changes"`
	RiskFlags []string `json:"riskFlags"`
}

// DraftOutput is the normalized draft result returned to callers.
type DraftOutput struct {
	Outline   string            `json:"outline"`
	Draft     string            `json:"draft"`
	Citations map[string]string `json:"citations"`
}

// SimilarityOutput is the normalized similarity-check result.
type SimilarityOutput struct {
	MatchedSegments     []string `json:"matchedSegments"`
	SuggestedRewrites   []string `json:"suggestedRewrites"`
	CitationSuggestions []string `json:"citationSuggestions"`
}

// GuardrailOutput is the normalized guardrail classification.
type GuardrailOutput struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason"`
	RedirectMessage string `json:"redirectMessage"`
}

// Model-facing shapes. The instruction text asks for snake_case field names,
// so these carry the wire tags the model echoes back; the exported outputs
// above carry the documented camelCase API contract.
type modelRewrite struct {
	Rewritten string   `json:"rewritten"`
	Changes   []string `json:"changes"`
	RiskFlags []string `json:"risk_flags"`
}

type modelDraft struct {
	Outline   string            `json:"outline"`
	Draft     string            `json:"draft"`
	Citations map[string]string `json:"citations"`
}

type modelSimilarity struct {
	MatchedSegments     []string `json:"matched_segments"`
	SuggestedRewrites   []string `json:"suggested_rewrites"`
	CitationSuggestions []string `json:"citation_suggestions"`
}

type modelGuardrail struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason"`
	RedirectMessage string `json:"redirect_message"`
}
