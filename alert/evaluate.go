// Package alert counts pattern matches in text and triggers workflows when
// a threshold comparison holds, typically against the newly-read increment
// of a polled log file.
package alert

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxSamples caps how many matching lines are kept as evidence.
	MaxSamples = 5
	// MaxSampleLen truncates each captured line.
	MaxSampleLen = 300
)

// Rule is an ephemeral alert rule, passed per call and never stored: a
// regular-expression pattern, a threshold, a comparator, and a
// case-sensitivity flag. Matching is case-insensitive unless CaseSensitive
// is set.
type Rule struct {
	Pattern       string `json:"pattern"`
	Threshold     int    `json:"threshold"`
	Comparator    string `json:"comparator"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

// Evaluation is the outcome of scanning one text against a rule.
type Evaluation struct {
	Count      int      `json:"count"`
	Triggered  bool     `json:"triggered"`
	Threshold  int      `json:"threshold"`
	Comparator string   `json:"comparator"`
	Samples    []string `json:"samples"`
}

// compare applies a comparator. Unrecognized comparators are a caller
// error, rejected before any I/O — never a silent default.
func compare(count, threshold int, op string) (bool, error) {
	switch strings.TrimSpace(op) {
	case ">=":
		return count >= threshold, nil
	case ">":
		return count > threshold, nil
	case "==":
		return count == threshold, nil
	case "<=":
		return count <= threshold, nil
	case "<":
		return count < threshold, nil
	default:
		return false, fmt.Errorf("invalid comparator %q; use one of: >=, >, ==, <=, <", op)
	}
}

// compile builds the rule's matcher, defaulting to case-insensitive.
func compile(rule Rule) (*regexp.Regexp, error) {
	pattern := rule.Pattern
	if !rule.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", rule.Pattern, err)
	}
	return rx, nil
}

// Evaluate scans text line by line, counting lines matching the rule's
// pattern and capturing up to MaxSamples matching lines verbatim. Triggered
// is the comparator applied to count vs. threshold.
func Evaluate(text string, rule Rule) (*Evaluation, error) {
	// Validate the rule in full before touching the text.
	if _, err := compare(0, rule.Threshold, rule.Comparator); err != nil {
		return nil, err
	}
	rx, err := compile(rule)
	if err != nil {
		return nil, err
	}

	count := 0
	samples := make([]string, 0, MaxSamples)
	for _, line := range strings.Split(text, "\n") {
		if !rx.MatchString(line) {
			continue
		}
		count++
		if len(samples) < MaxSamples {
			if len(line) > MaxSampleLen {
				line = line[:MaxSampleLen]
			}
			samples = append(samples, line)
		}
	}

	triggered, err := compare(count, rule.Threshold, rule.Comparator)
	if err != nil {
		return nil, err
	}
	return &Evaluation{
		Count:      count,
		Triggered:  triggered,
		Threshold:  rule.Threshold,
		Comparator: strings.TrimSpace(rule.Comparator),
		Samples:    samples,
	}, nil
}
