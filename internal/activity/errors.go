package activity

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-convgen/internal/generation"
	llmerrors "github.com/ahrav/go-convgen/internal/llm/errors"
)

// Application error tags raised for failures detected before or after the
// model call. Call failures are tagged with their llm error type instead,
// e.g. "rate_limit" or "server".
const (
	TagValidation = "validation"
	TagParse      = "parse"
	TagArtifact   = "artifact"
)

// NonRetryableTags are the application error types a retry policy should
// never retry. Activities already mark these errors non-retryable; the list
// lets workflows state it in their policy too.
var NonRetryableTags = []string{
	TagValidation,
	TagParse,
	TagArtifact,
	string(llmerrors.ErrorTypeAuth),
	string(llmerrors.ErrorTypePermission),
	string(llmerrors.ErrorTypeQuota),
	string(llmerrors.ErrorTypeClient),
}

// nonRetryable wraps cause as a non-retryable application error tagged tag.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

// applicationError converts a generation failure into a Temporal application
// error. Invalid input and bad artifacts are never retried. Call failures
// keep their classification as the tag and their retry decision; a provider
// Retry-After becomes the next retry delay.
func applicationError(err error) error {
	if err == nil {
		return nil
	}

	var (
		validationErr *llmerrors.ValidationError
		parseErr      *generation.ParseError
		artifactErr   *generation.ArtifactValidationError
	)
	switch {
	case errors.As(err, &validationErr):
		return nonRetryable(TagValidation, err, "invalid generation input")
	case errors.As(err, &parseErr):
		return nonRetryable(TagParse, err, "unparseable model response")
	case errors.As(err, &artifactErr):
		return nonRetryable(TagArtifact, err, "invalid conversation artifact")
	}

	wfErr := llmerrors.ClassifyLLMError(err)
	if !wfErr.Retryable {
		return nonRetryable(string(wfErr.Type), err, wfErr.Message)
	}
	return temporal.NewApplicationErrorWithOptions(wfErr.Message, string(wfErr.Type), temporal.ApplicationErrorOptions{
		Cause:          err,
		NextRetryDelay: time.Duration(llmerrors.GetRetryAfter(err)) * time.Second,
	})
}
