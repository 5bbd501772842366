// internal/llm/service.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"humanizer-api/internal/common/logger"
	"humanizer-api/internal/common/metrics"
)

var (
	ErrTextRequired = errors.New("TEXT_REQUIRED")
	ErrTextTooLong  = errors.New("TEXT_TOO_LONG")
)

// Inferrer is the provider-facing surface the service depends on. The
// concrete Client satisfies it; tests substitute canned responses.
type Inferrer interface {
	Infer(ctx context.Context, messages []Message) (string, error)
}

// Service assembles prompts, runs inference and normalizes the result for
// each of the four tasks. It owns input validation so no provider call is
// attempted for input the API would reject anyway.
type Service struct {
	client        Inferrer
	logger        logger.Logger
	maxInputChars int
}

func NewService(client Inferrer, log logger.Logger, maxInputChars int) *Service {
	return &Service{
		client:        client,
		logger:        log,
		maxInputChars: maxInputChars,
	}
}

// validateText enforces presence and the input size cap on a primary text
// field before any provider traffic.
func (s *Service) validateText(field, text string) error {
	if text == "" {
		return fmt.Errorf("%w: %s is required", ErrTextRequired, field)
	}
	if len([]rune(text)) > s.maxInputChars {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrTextTooLong, field, s.maxInputChars)
	}
	return nil
}

func (s *Service) run(ctx context.Context, task Task, messages []Message) (string, error) {
	start := time.Now()
	raw, err := s.client.Infer(ctx, messages)
	metrics.ProviderDuration.WithLabelValues(string(task)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(string(task), "error").Inc()
		s.logger.WithError(err).Error("Inference failed", map[string]interface{}{
			"task": string(task),
		})
		return "", err
	}
	return raw, nil
}

// Rewrite runs the humanize task: reword the text in the requested tone
// while preserving meaning.
func (s *Service) Rewrite(ctx context.Context, input RewriteInput) (*RewriteOutput, error) {
	if err := s.validateText("text", input.Text); err != nil {
		return nil, err
	}

	raw, err := s.run(ctx, TaskRewrite, RewriteMessages(input))
	if err != nil {
		return nil, err
	}

	out, err := NormalizeRewrite(raw)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(string(TaskRewrite), "parse_failure").Inc()
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(string(TaskRewrite), "success").Inc()
	return out, nil
}

// Draft produces an outline and full draft grounded in the given sources.
func (s *Service) Draft(ctx context.Context, input DraftInput) (*DraftOutput, error) {
	if err := s.validateText("writingGoal", input.WritingGoal); err != nil {
		return nil, err
	}
	if len(input.Sources) == 0 {
		return nil, fmt.Errorf("%w: sources are required", ErrTextRequired)
	}
	for _, src := range input.Sources {
		if len([]rune(src)) > s.maxInputChars {
			return nil, fmt.Errorf("%w: source exceeds %d characters", ErrTextTooLong, s.maxInputChars)
		}
	}

	raw, err := s.run(ctx, TaskDraft, DraftMessages(input))
	if err != nil {
		return nil, err
	}

	out, err := NormalizeDraft(raw)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(string(TaskDraft), "parse_failure").Inc()
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(string(TaskDraft), "success").Inc()
	return out, nil
}

// Similarity flags segments likely to match common sources and suggests
// rewrites and citations.
func (s *Service) Similarity(ctx context.Context, input SimilarityInput) (*SimilarityOutput, error) {
	if err := s.validateText("text", input.Text); err != nil {
		return nil, err
	}
	if err := s.validateText("sourcePassage", input.SourcePassage); err != nil {
		return nil, err
	}

	raw, err := s.run(ctx, TaskSimilarity, SimilarityMessages(input))
	if err != nil {
		return nil, err
	}

	out, err := NormalizeSimilarity(raw)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(string(TaskSimilarity), "parse_failure").Inc()
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(string(TaskSimilarity), "success").Inc()
	return out, nil
}

// Guardrail decides whether a request is appropriate to serve and, when it
// is not, what to tell the user instead.
func (s *Service) Guardrail(ctx context.Context, input GuardrailInput) (*GuardrailOutput, error) {
	if err := s.validateText("text", input.Text); err != nil {
		return nil, err
	}

	raw, err := s.run(ctx, TaskGuardrail, GuardrailMessages(input))
	if err != nil {
		return nil, err
	}

	out, err := NormalizeGuardrail(raw)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(string(TaskGuardrail), "parse_failure").Inc()
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(string(TaskGuardrail), "success").Inc()
	return out, nil
}
