// Package classify maps raw execution and sanitization failures onto a fixed
// taxonomy with severity, recoverability and a confidence score. Only the
// pipeline orchestrator interprets the resulting categories.
package classify

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/querymend/querymend/core/sanitize"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

// Category is the failure taxonomy.
type Category string

const (
	CategorySQLValidation Category = "sql_validation"
	CategoryDialect       Category = "dialect_incompatibility"
	CategoryTransient     Category = "execution_transient"
	CategoryNoResults     Category = "no_results"
	CategoryRendering     Category = "downstream_rendering"
	CategoryUnknown       Category = "unknown"
)

// Severity grades how bad a failure is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Recoverability tells the recovery engine what it may attempt.
type Recoverability string

const (
	// RecoverNone terminates the run immediately.
	RecoverNone Recoverability = "none"
	// RecoverRetryable allows re-execution without changing the SQL.
	RecoverRetryable Recoverability = "retryable"
	// RecoverAutoFixable allows a generated or rule-based rewrite first.
	RecoverAutoFixable Recoverability = "auto_fixable"
)

// confidence tiers, from how specifically the raw message matched
const (
	confidenceTyped    = 0.95
	confidenceExact    = 0.9
	confidenceKeyword  = 0.7
	confidenceFallback = 0.3
)

const excerptLimit = 500

// Classification is the classifier's verdict on one failure.
type Classification struct {
	Category       Category
	Severity       Severity
	Recoverability Recoverability
	Confidence     float64
	Excerpt        string
}

// Record is a classified failure captured into a run's bounded history.
type Record struct {
	Classification
	RetryCount int
	At         time.Time
}

type rule struct {
	exact          *regexp.Regexp
	keywords       []string
	category       Category
	severity       Severity
	recoverability Recoverability
}

// Ordered: the first matching rule wins, exact patterns before keywords.
var rules = []rule{
	{
		exact:          regexp.MustCompile(`(?i)(syntax error (at|near)|sql syntax|parse (error|exception)|unexpected token)`),
		keywords:       []string{"syntax", "parse error", "unbalanced", "placeholder"},
		category:       CategorySQLValidation,
		severity:       SeverityError,
		recoverability: RecoverAutoFixable,
	},
	{
		exact:          regexp.MustCompile(`(?i)(unknown function (lag|lead|row_number|rank)|window function(s)? (are )?not supported)`),
		keywords:       []string{"not supported", "unsupported function", "window function"},
		category:       CategoryDialect,
		severity:       SeverityError,
		recoverability: RecoverAutoFixable,
	},
	{
		exact:          regexp.MustCompile(`(?i)(connection (reset|refused|timed out)|i/o timeout|context deadline exceeded|broken pipe|connection closed|too many connections)`),
		keywords:       []string{"timeout", "timed out", "temporarily unavailable", "unavailable", "connection"},
		category:       CategoryTransient,
		severity:       SeverityWarning,
		recoverability: RecoverRetryable,
	},
	{
		exact:          regexp.MustCompile(`(?i)(no rows in result set|empty result set)`),
		keywords:       []string{"no rows", "zero rows", "empty result"},
		category:       CategoryNoResults,
		severity:       SeverityInfo,
		recoverability: RecoverRetryable,
	},
	{
		exact:          regexp.MustCompile(`(?i)(render(ing)? failed|chart build|serializ(e|ation) error)`),
		keywords:       []string{"render", "chart", "visualization"},
		category:       CategoryRendering,
		severity:       SeverityWarning,
		recoverability: RecoverRetryable,
	},
}

// Classifier turns errors into Classifications.
type Classifier struct{}

// New constructs a Classifier.
func New() *Classifier {
	return &Classifier{}
}

// Classify inspects err, preferring typed errors over message patterns.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Severity: SeverityInfo,
			Recoverability: RecoverNone, Confidence: confidenceFallback}
	}

	var serr *sanitize.Error
	if errors.As(err, &serr) {
		return classifySanitize(serr)
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if cl, ok := c.classifyAppError(appErr); ok {
			return cl
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Classification{
			Category:       CategoryTransient,
			Severity:       SeverityWarning,
			Recoverability: RecoverRetryable,
			Confidence:     confidenceTyped,
			Excerpt:        bound(err.Error()),
		}
	}

	return c.ClassifyMessage(err.Error())
}

// ClassifyMessage matches a raw failure message against the pattern table.
func (c *Classifier) ClassifyMessage(msg string) Classification {
	lower := strings.ToLower(msg)

	for _, r := range rules {
		if r.exact != nil && r.exact.MatchString(msg) {
			return Classification{
				Category:       r.category,
				Severity:       r.severity,
				Recoverability: r.recoverability,
				Confidence:     confidenceExact,
				Excerpt:        bound(msg),
			}
		}
	}
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return Classification{
					Category:       r.category,
					Severity:       r.severity,
					Recoverability: r.recoverability,
					Confidence:     confidenceKeyword,
					Excerpt:        bound(msg),
				}
			}
		}
	}

	return Classification{
		Category:       CategoryUnknown,
		Severity:       SeverityError,
		Recoverability: RecoverRetryable,
		Confidence:     confidenceFallback,
		Excerpt:        bound(msg),
	}
}

// NoResults builds the classification used when a run requires non-empty
// output and got zero rows. Not an error by itself, but routed through the
// same recovery machinery.
func (c *Classifier) NoResults() Classification {
	return Classification{
		Category:       CategoryNoResults,
		Severity:       SeverityInfo,
		Recoverability: RecoverRetryable,
		Confidence:     confidenceTyped,
	}
}

// Sanitization failures are always sql_validation and always fixable by a
// fresh generation; the recovery engine decides whether rule-based repair is
// also allowed (it is not for template placeholders).
func classifySanitize(serr *sanitize.Error) Classification {
	return Classification{
		Category:       CategorySQLValidation,
		Severity:       SeverityError,
		Recoverability: RecoverAutoFixable,
		Confidence:     confidenceTyped,
		Excerpt:        bound(serr.Excerpt),
	}
}

func (c *Classifier) classifyAppError(appErr *apperrors.AppError) (Classification, bool) {
	switch appErr.Code {
	case apperrors.ErrCodeSourceNotFound:
		return Classification{
			Category:       CategoryUnknown,
			Severity:       SeverityFatal,
			Recoverability: RecoverNone,
			Confidence:     confidenceTyped,
			Excerpt:        bound(appErr.Message),
		}, true
	case apperrors.ErrCodeValidationError, apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeNoStatement, apperrors.ErrCodeSyntaxError, apperrors.ErrCodeTemplateDetected:
		// an engine rejection carrying a dialect message routes to the
		// dialect branch, where a rewrite beats a blind regeneration
		if cl := c.ClassifyMessage(appErr.Error()); cl.Category == CategoryDialect {
			return cl, true
		}
		return Classification{
			Category:       CategorySQLValidation,
			Severity:       SeverityError,
			Recoverability: RecoverAutoFixable,
			Confidence:     confidenceTyped,
			Excerpt:        bound(appErr.Message),
		}, true
	case apperrors.ErrCodeEngineExhausted:
		// exhaustion after a validation-class rejection is terminal;
		// transport-class exhaustion may still be retried
		if apperrors.IsValidationError(errors.Unwrap(appErr)) {
			return Classification{
				Category:       CategorySQLValidation,
				Severity:       SeverityFatal,
				Recoverability: RecoverNone,
				Confidence:     confidenceTyped,
				Excerpt:        bound(appErr.Message),
			}, true
		}
		if cl := c.ClassifyMessage(appErr.Error()); cl.Category == CategoryDialect || cl.Category == CategorySQLValidation {
			return cl, true
		}
		return Classification{
			Category:       CategoryTransient,
			Severity:       SeverityError,
			Recoverability: RecoverRetryable,
			Confidence:     confidenceTyped,
			Excerpt:        bound(appErr.Message),
		}, true
	case apperrors.ErrCodeConnectionFailed:
		return Classification{
			Category:       CategoryTransient,
			Severity:       SeverityWarning,
			Recoverability: RecoverRetryable,
			Confidence:     confidenceTyped,
			Excerpt:        bound(appErr.Message),
		}, true
	}
	return Classification{}, false
}

func bound(msg string) string {
	if len(msg) > excerptLimit {
		return msg[:excerptLimit]
	}
	return msg
}
