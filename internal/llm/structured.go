package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CompleteValidated calls c and returns JSON that validates against req.Schema.
// A failing document gets one lenient NormalizeJSON pass before it is rejected.
func CompleteValidated(ctx context.Context, c Completer, req ChatRequest, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if req.Schema == nil {
		req.Schema = SchemaFor(req.Name)
	}
	start := time.Now()

	raw, err := c.CompleteJSON(ctx, req)
	if err != nil {
		return nil, err
	}

	strictErr := ValidateJSONAgainstSchema(req.Schema, raw)
	if strictErr == nil {
		logger.Info("llm.complete.ok", "shape", req.Name, "bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())
		return raw, nil
	}
	logger.Warn("llm.complete.strict_validation_failed", "shape", req.Name, "error", strictErr)

	cleaned, dropped, sErr := NormalizeJSON(req.Name, raw, logger)
	if sErr != nil {
		logger.Error("llm.complete.sanitize_failed", "shape", req.Name, "error", sErr)
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, sErr)
	}
	if vErr := ValidateJSONAgainstSchema(req.Schema, cleaned); vErr != nil {
		logger.Error("llm.complete.schema_validation_failed",
			"shape", req.Name, "error", vErr, "content", Truncate(string(cleaned), 2000),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: schema validation failed: %w", ErrInvalidResponse, vErr)
	}
	logger.Warn("llm.complete.lenient_sanitize_applied",
		"shape", req.Name, "dropped", dropped,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return cleaned, nil
}
