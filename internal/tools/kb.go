// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adiadia/triage-runtime/internal/domain"
)

const (
	kbPerTermLimit = 3
	extractLength  = 200
)

// KBTool searches the knowledge base for terms taken from the customer
// message and, when risk scoring already ran, from the fired signals.
type KBTool struct {
	Searcher KBSearcher
}

func (t *KBTool) Execute(ctx context.Context, sc domain.StepContext) (domain.StepResult, error) {
	if t.Searcher == nil {
		return nil, errors.New("kb searcher not configured")
	}

	risk, _ := sc.Risk()
	terms := SearchTerms(sc.Input.UserMessage, risk.Signals)

	res := domain.KBResult{Results: []domain.KBHit{}, SearchTerms: terms}
	seen := make(map[string]struct{})
	for _, term := range terms {
		docs, err := t.Searcher.Search(ctx, term, kbPerTermLimit)
		if err != nil {
			return nil, fmt.Errorf("kb search %q: %w", term, err)
		}
		for _, doc := range docs {
			if _, dup := seen[doc.ID]; dup {
				continue
			}
			seen[doc.ID] = struct{}{}
			res.Results = append(res.Results, domain.KBHit{
				DocID:   doc.ID,
				Title:   doc.Title,
				Anchor:  doc.Anchor,
				Extract: Extract(doc.Content),
			})
		}
	}
	return res, nil
}

// SearchTerms derives unique search terms, message terms first.
func SearchTerms(message string, signals []domain.Signal) []string {
	msg := strings.ToLower(message)
	terms := []string{}
	add := func(term string) {
		for _, t := range terms {
			if t == term {
				return
			}
		}
		terms = append(terms, term)
	}

	for _, term := range []string{"dispute", "freeze", "travel"} {
		if strings.Contains(msg, term) {
			add(term)
		}
	}
	for _, s := range signals {
		switch s.Kind {
		case domain.SignalChargebackHistory:
			add("chargeback")
		case domain.SignalDeviceChange:
			add("device")
		case domain.SignalGeoAnomaly:
			add("travel")
		}
	}
	return terms
}

// Extract truncates content to a short preview.
func Extract(content string) string {
	r := []rune(content)
	if len(r) <= extractLength {
		return content
	}
	return string(r[:extractLength]) + "..."
}
