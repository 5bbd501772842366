// internal/llm/normalize.go
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var ErrParseFailure = errors.New("PARSE_FAILURE")

const (
	ReasonMalformed  = "malformed JSON"
	ReasonIncomplete = "incomplete shape"
)

// rawExcerptLimit bounds how much raw model text a ParseError keeps for
// diagnostics.
const rawExcerptLimit = 512

// ParseError reports model output that could not be reduced to a complete
// JSON value for the task. It never carries a partial result.
type ParseError struct {
	Task    Task
	Reason  string
	Details string
	Raw     string
}

func (e *ParseError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("PARSE_FAILURE: %s task: %s: %s", e.Task, e.Reason, e.Details)
	}
	return fmt.Sprintf("PARSE_FAILURE: %s task: %s", e.Task, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParseFailure }

// Required output shapes per task, keyed by the snake_case names the model is
// instructed to emit.
var outputSchemas = map[Task]map[string]interface{}{
	TaskRewrite: {
		"type":     "object",
		"required": []string{"rewritten", "changes", "risk_flags"},
		"properties": map[string]interface{}{
			"rewritten":  map[string]interface{}{"type": "string"},
			"changes":    map[string]interface{}{"type": "array"},
			"risk_flags": map[string]interface{}{"type": "array"},
		},
	},
	TaskDraft: {
		"type":     "object",
		"required": []string{"outline", "draft", "citations"},
		"properties": map[string]interface{}{
			"outline":   map[string]interface{}{"type": "string"},
			"draft":     map[string]interface{}{"type": "string"},
			"citations": map[string]interface{}{"type": "object"},
		},
	},
	TaskSimilarity: {
		"type":     "object",
		"required": []string{"matched_segments", "suggested_rewrites", "citation_suggestions"},
		"properties": map[string]interface{}{
			"matched_segments":     map[string]interface{}{"type": "array"},
			"suggested_rewrites":   map[string]interface{}{"type": "array"},
			"citation_suggestions": map[string]interface{}{"type": "array"},
		},
	},
	TaskGuardrail: {
		"type":     "object",
		"required": []string{"allowed", "reason", "redirect_message"},
		"properties": map[string]interface{}{
			"allowed":          map[string]interface{}{"type": "boolean"},
			"reason":           map[string]interface{}{"type": "string"},
			"redirect_message": map[string]interface{}{"type": "string"},
		},
	},
}

const fenceToken = "```"

// extractCandidate reduces free-form model text to the slice most likely to
// be the JSON payload. Fallback chain: fenced block labeled json, any fenced
// block, earliest of '{' or '[', else the trimmed text itself.
func extractCandidate(raw string) string {
	text := strings.TrimSpace(raw)
	fences := fencePositions(text)

	// A fence labeled json wins over an earlier unlabeled one.
	for i, pos := range fences {
		after := text[pos+len(fenceToken):]
		if !strings.HasPrefix(after, "json") {
			continue
		}
		start := pos + len(fenceToken) + len("json")
		end := len(text)
		if i+1 < len(fences) {
			end = fences[i+1]
		}
		return strings.TrimSpace(text[start:end])
	}

	if len(fences) > 0 {
		start := fences[0] + len(fenceToken)
		end := len(text)
		if len(fences) > 1 {
			end = fences[1]
		}
		return strings.TrimSpace(text[start:end])
	}

	objAt := strings.IndexByte(text, '{')
	arrAt := strings.IndexByte(text, '[')
	switch {
	case objAt < 0 && arrAt < 0:
		// Likely a parse failure downstream, but that is the caller's call.
		return text
	case arrAt < 0 || (objAt >= 0 && objAt < arrAt):
		return strings.TrimSpace(text[objAt:])
	default:
		return strings.TrimSpace(text[arrAt:])
	}
}

// fencePositions scans the text once and returns the offset of every fence
// delimiter, in order.
func fencePositions(text string) []int {
	var positions []int
	idx := 0
	for {
		i := strings.Index(text[idx:], fenceToken)
		if i < 0 {
			return positions
		}
		positions = append(positions, idx+i)
		idx += i + len(fenceToken)
	}
}

// decodeOutput extracts, parses and shape-checks raw model text, then decodes
// it into the task's typed model shape. Extra fields in the model output are
// dropped by the typed decode, never propagated.
func decodeOutput(raw string, task Task, out interface{}) error {
	candidate := extractCandidate(raw)

	var doc interface{}
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return &ParseError{
			Task:   task,
			Reason: ReasonMalformed,
			Raw:    truncate(raw, rawExcerptLimit),
		}
	}

	if err := validateShape(task, doc); err != nil {
		return &ParseError{
			Task:    task,
			Reason:  ReasonIncomplete,
			Details: err.Error(),
			Raw:     truncate(raw, rawExcerptLimit),
		}
	}

	if err := json.Unmarshal([]byte(candidate), out); err != nil {
		return &ParseError{
			Task:    task,
			Reason:  ReasonMalformed,
			Details: err.Error(),
			Raw:     truncate(raw, rawExcerptLimit),
		}
	}
	return nil
}

func validateShape(task Task, doc interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(outputSchemas[task])
	documentLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%v", errs)
	}

	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// NormalizeRewrite reduces raw model text to the rewrite output contract.
func NormalizeRewrite(raw string) (*RewriteOutput, error) {
	var m modelRewrite
	if err := decodeOutput(raw, TaskRewrite, &m); err != nil {
		return nil, err
	}
	return &RewriteOutput{Rewritten: m.Rewritten, Changes: m.Changes, RiskFlags: m.RiskFlags}, nil
}

// NormalizeDraft reduces raw model text to the draft output contract.
func NormalizeDraft(raw string) (*DraftOutput, error) {
	var m modelDraft
	if err := decodeOutput(raw, TaskDraft, &m); err != nil {
		return nil, err
	}
	return &DraftOutput{Outline: m.Outline, Draft: m.Draft, Citations: m.Citations}, nil
}

// NormalizeSimilarity reduces raw model text to the similarity output contract.
func NormalizeSimilarity(raw string) (*SimilarityOutput, error) {
	var m modelSimilarity
	if err := decodeOutput(raw, TaskSimilarity, &m); err != nil {
		return nil, err
	}
	return &SimilarityOutput{
		MatchedSegments:     m.MatchedSegments,
		SuggestedRewrites:   m.SuggestedRewrites,
		CitationSuggestions: m.CitationSuggestions,
	}, nil
}

// NormalizeGuardrail reduces raw model text to the guardrail output contract.
func NormalizeGuardrail(raw string) (*GuardrailOutput, error) {
	var m modelGuardrail
	if err := decodeOutput(raw, TaskGuardrail, &m); err != nil {
		return nil, err
	}
	return &GuardrailOutput{Allowed: m.Allowed, Reason: m.Reason, RedirectMessage: m.RedirectMessage}, nil
}
