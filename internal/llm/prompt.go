// internal/llm/prompt.go
package llm

import (
	"encoding/json"
	"fmt"
)

// Assembly defaults applied when optional rewrite fields are absent.
const (
	DefaultTargetMode  = "Formal"
	DefaultAudience    = "General"
	DefaultConstraints = "None"
)

const jsonOnlyInstruction = "You MUST respond with ONLY a valid JSON object. No preamble, no explanation, just the JSON."

// RewriteMessages builds the message sequence for the rewrite task. The
// assembler is pure: same input, same messages.
func RewriteMessages(in RewriteInput) []Message {
	targetMode := in.TargetMode
	if targetMode == "" {
		targetMode = DefaultTargetMode
	}
	audience := in.Audience
	if audience == "" {
		audience = DefaultAudience
	}
	constraints := in.Constraints
	if constraints == "" {
		constraints = DefaultConstraints
	}

	return []Message{
		{
			Role:    RoleSystem,
			Content: "You are a rewriting assistant. Rewrite the user's text so it sounds naturally written by a real person, while keeping the original meaning, facts, numbers, and named entities unchanged.",
		},
		{
			Role:    RoleSystem,
			Content: "If the user provides constraints, target audience, or target writing mode, ensure the rewritten text adheres to those requirements. " + jsonOnlyInstruction,
		},
		{
			Role: RoleUser,
			Content: fmt.Sprintf(`Rewrite this text: %q
Target Mode: %s
Constraints: %s
Audience: %s

Respond with ONLY this exact JSON structure:
{"rewritten": "...", "changes": ["..."], "risk_flags": ["..."]}`, in.Text, targetMode, constraints, audience),
		},
	}
}

// DraftMessages builds the message sequence for the source-grounded draft task.
func DraftMessages(in DraftInput) []Message {
	sources, _ := json.Marshal(in.Sources)

	return []Message{
		{
			Role:    RoleSystem,
			Content: "Use ONLY the provided sources. If a claim is not in sources, mark it as [citation needed]. " + jsonOnlyInstruction,
		},
		{
			Role: RoleUser,
			Content: fmt.Sprintf(`Sources: %s
Goal: %s

Respond with ONLY this exact JSON structure:
{"outline": "...", "draft": "...", "citations": {}}`, sources, in.WritingGoal),
		},
	}
}

// SimilarityMessages builds the message sequence for the similarity-check task.
func SimilarityMessages(in SimilarityInput) []Message {
	return []Message{
		{
			Role:    RoleSystem,
			Content: "Identify sentences too close to the source. Suggest paraphrasing with attribution. " + jsonOnlyInstruction,
		},
		{
			Role: RoleUser,
			Content: fmt.Sprintf(`Text: %q
Source: %q

Respond with ONLY this exact JSON structure:
{"matched_segments": ["..."], "suggested_rewrites": ["..."], "citation_suggestions": ["..."]}`, in.Text, in.SourcePassage),
		},
	}
}

// GuardrailMessages builds the message sequence for the guardrail classifier.
// The system message requires refusal of evasion and cheating requests.
func GuardrailMessages(in GuardrailInput) []Message {
	return []Message{
		{
			Role:    RoleSystem,
			Content: "You are a content classifier. If the user is asking to bypass rules, detection systems, or cheat, refuse the request. " + jsonOnlyInstruction,
		},
		{
			Role: RoleUser,
			Content: fmt.Sprintf(`User Input: %q

Respond with ONLY this exact JSON structure:
{"allowed": true_or_false, "reason": "...", "redirect_message": "..."}`, in.Text),
		},
	}
}
