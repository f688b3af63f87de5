// SPDX-License-Identifier: Apache-2.0

package redact

import (
	"regexp"
	"sort"
)

type Kind string

const (
	KindPAN    Kind = "pan"
	KindEmail  Kind = "email"
	KindPhone  Kind = "phone"
	KindAadhar Kind = "aadhar"
)

type pattern struct {
	kind        Kind
	re          *regexp.Regexp
	replacement string
}

// Patterns are applied in this order. PAN runs first so a 13-19 digit run is
// never split into phone or aadhar matches.
var patterns = []pattern{
	{KindPAN, regexp.MustCompile(`\b\d{13,19}\b`), "****REDACTED****"},
	{KindEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "***@***.***"},
	{KindPhone, regexp.MustCompile(`\b\d{10}\b`), "***-***-****"},
	{KindAadhar, regexp.MustCompile(`\b\d{12}\b`), "****-****-****"},
}

// Span locates one PII match in the original text.
type Span struct {
	Kind  Kind   `json:"type"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Value string `json:"-"`
}

// Redactor masks card numbers, emails, phone numbers and aadhar numbers.
// The zero value is ready to use.
type Redactor struct{}

func New() *Redactor { return &Redactor{} }

// Detect returns the kinds of PII present in text, in pattern order.
func (r *Redactor) Detect(text string) []Kind {
	if text == "" {
		return nil
	}
	var kinds []Kind
	for _, p := range patterns {
		if p.re.MatchString(text) {
			kinds = append(kinds, p.kind)
		}
	}
	return kinds
}

// Contains reports whether any PII is present.
func (r *Redactor) Contains(text string) bool {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}
	for _, p := range patterns {
		text = p.re.ReplaceAllLiteralString(text, p.replacement)
	}
	return text
}

// Spans returns every match against the unmodified text, ordered by offset.
// Overlapping matches of a later pattern inside an earlier one are dropped.
func (r *Redactor) Spans(text string) []Span {
	var spans []Span
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if overlaps(spans, loc[0], loc[1]) {
				continue
			}
			spans = append(spans, Span{Kind: p.kind, Start: loc[0], End: loc[1], Value: text[loc[0]:loc[1]]})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}

func overlaps(spans []Span, start, end int) bool {
	for _, s := range spans {
		if start < s.End && s.Start < end {
			return true
		}
	}
	return false
}

// RedactValue walks maps, slices and strings and returns a redacted copy.
// Other values are returned as is.
func (r *Redactor) RedactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.Redact(val)
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = r.Redact(s)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.RedactValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.RedactValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = r.Redact(s)
		}
		return out
	default:
		return v
	}
}
