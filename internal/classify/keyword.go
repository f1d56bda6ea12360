// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package classify

import (
	"context"
	"strings"

	"github.com/tomtom215/meridian/internal/models"
)

// Rule maps any of its keywords to a category and severity.
type Rule struct {
	Category string
	Severity float64
	Keywords []string
}

// DefaultRules covers the common incident categories.
var DefaultRules = []Rule{
	{Category: "armed_conflict", Severity: 8, Keywords: []string{"airstrike", "air strike", "shelling", "artillery", "missile", "drone strike", "clashes", "offensive"}},
	{Category: "terrorism", Severity: 9, Keywords: []string{"suicide bomb", "car bomb", "ied", "hostage", "terror attack"}},
	{Category: "explosion", Severity: 7, Keywords: []string{"explosion", "blast", "detonation"}},
	{Category: "disaster", Severity: 6, Keywords: []string{"earthquake", "tsunami", "flood", "wildfire", "hurricane", "cyclone", "landslide"}},
	{Category: "unrest", Severity: 4, Keywords: []string{"protest", "riot", "demonstration", "curfew", "tear gas"}},
	{Category: "cyber", Severity: 5, Keywords: []string{"ransomware", "cyberattack", "cyber attack", "data breach", "ddos"}},
	{Category: "health", Severity: 5, Keywords: []string{"outbreak", "epidemic", "cholera", "ebola"}},
}

// Keyword classifies items locally by matching rule keywords against the
// title and summary. The highest-severity matching rule wins.
type Keyword struct {
	rules []Rule
}

// NewKeyword creates a Keyword classifier; nil rules means DefaultRules.
func NewKeyword(rules []Rule) *Keyword {
	if rules == nil {
		rules = DefaultRules
	}
	return &Keyword{rules: rules}
}

// ClassifyBatch implements Classifier. It never fails.
func (k *Keyword) ClassifyBatch(_ context.Context, items []models.Item) (map[string]models.ClassifyResult, error) {
	out := make(map[string]models.ClassifyResult, len(items))
	for i := range items {
		text := " " + strings.ToLower(items[i].Text()) + " "
		var best *Rule
		var tags []string
		for r := range k.rules {
			rule := &k.rules[r]
			if !matchesAny(text, rule.Keywords) {
				continue
			}
			tags = append(tags, rule.Category)
			if best == nil || rule.Severity > best.Severity {
				best = rule
			}
		}
		if best == nil {
			continue
		}
		out[items[i].ID] = models.ClassifyResult{
			Category: best.Category,
			Severity: best.Severity,
			Tags:     tags,
		}
	}
	return out, nil
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
