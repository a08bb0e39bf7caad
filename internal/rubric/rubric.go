// Package rubric parses and validates the four-category score a grading model
// returns for a free-text answer, and renders it as user-facing feedback.
package rubric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dchstudio/exiquiz/internal/i18n"
	"github.com/dchstudio/exiquiz/internal/model"
)

// Categories lists the required scoring categories in the fixed order used
// for feedback output. JSON key order is irrelevant.
var Categories = []string{
	"Accuracy of content",
	"Quality of argumentation",
	"Contextual reference",
	"Originality",
}

const (
	// MaxPointsPerCategory is the per-category point ceiling.
	MaxPointsPerCategory = 10

	totalKey = "Total score"
)

// MaxTotal is the maximum achievable total score.
var MaxTotal = len(Categories) * MaxPointsPerCategory

// Validation failures. Callers distinguish them with errors.Is.
var (
	ErrMalformed    = errors.New("rubric is not valid JSON")
	ErrIncomplete   = errors.New("rubric is missing required categories")
	ErrInconsistent = errors.New("total score does not match the category sum")
)

// CategoryScore is the points and justification for one category.
type CategoryScore struct {
	Points        int
	Justification string
}

// Result is a successfully validated evaluation.
type Result struct {
	Feedback string
	Status   model.AnswerStatus
	Total    int
	Scores   map[string]CategoryScore
}

type rawCategory struct {
	Points        json.Number `json:"points"`
	Justification *string     `json:"justification"`
}

// Evaluate parses a raw model response into a validated rubric result.
// The input is an arbitrary text blob expected to contain one JSON object;
// anything the model wrapped around it (prose, markdown fences) is ignored.
// Evaluate has no side effects; session and registry updates are the
// orchestrator's job.
func Evaluate(ctx context.Context, raw string) (*Result, error) {
	blob := extractJSON(raw)
	if blob == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformed)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	totalRaw, ok := fields[totalKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrIncomplete, totalKey)
	}
	var totalNum json.Number
	if err := json.Unmarshal(totalRaw, &totalNum); err != nil {
		return nil, fmt.Errorf("%w: %q is not a number", ErrIncomplete, totalKey)
	}
	total, err := asInt(totalNum)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrIncomplete, totalKey)
	}

	scores := make(map[string]CategoryScore, len(Categories))
	sum := 0
	for _, cat := range Categories {
		catRaw, ok := fields[cat]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrIncomplete, cat)
		}
		var rc rawCategory
		if err := json.Unmarshal(catRaw, &rc); err != nil {
			return nil, fmt.Errorf("%w: %q has unexpected shape", ErrIncomplete, cat)
		}
		if rc.Justification == nil {
			return nil, fmt.Errorf("%w: %q has no justification", ErrIncomplete, cat)
		}
		points, err := asInt(rc.Points)
		if err != nil {
			return nil, fmt.Errorf("%w: %q has no integer points", ErrIncomplete, cat)
		}
		scores[cat] = CategoryScore{Points: points, Justification: *rc.Justification}
		sum += points
	}

	// Guard against a model returning arithmetic it didn't actually perform.
	if sum != total {
		return nil, fmt.Errorf("%w: categories sum to %d, stated total is %d", ErrInconsistent, sum, total)
	}

	threshold := MaxTotal / 2
	status := model.StatusUnanswered
	if total >= threshold {
		status = model.StatusAnswered
	}

	return &Result{
		Feedback: formatFeedback(ctx, scores, total),
		Status:   status,
		Total:    total,
		Scores:   scores,
	}, nil
}

// formatFeedback renders one line per category in fixed order, followed by a
// summary line with the verdict message for the score tier.
func formatFeedback(ctx context.Context, scores map[string]CategoryScore, total int) string {
	var sb strings.Builder
	for _, cat := range Categories {
		cs := scores[cat]
		fmt.Fprintf(&sb, "%s [%d/%d]: %s\n", cat, cs.Points, MaxPointsPerCategory, cs.Justification)
	}
	fmt.Fprintf(&sb, "%s [%d/%d]: %s", totalKey, total, MaxTotal, verdict(ctx, total))
	return sb.String()
}

func verdict(ctx context.Context, total int) string {
	threshold := MaxTotal / 2
	switch {
	case total >= threshold:
		return i18n.T(ctx, "verdict_pass")
	case total >= threshold/2:
		return i18n.T(ctx, "verdict_partial")
	default:
		return i18n.T(ctx, "verdict_fail")
	}
}

func asInt(n json.Number) (int, error) {
	if n == "" {
		return 0, errors.New("empty number")
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	// Some models emit totals like 26.0; accept integral floats.
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%s is not integral", n)
	}
	return int(f), nil
}

// extractJSON finds the outermost JSON object in a string. It handles nested
// braces and skips braces inside quoted strings.
func extractJSON(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
