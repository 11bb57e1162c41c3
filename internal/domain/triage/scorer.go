package triage

import (
	"fmt"
	"math"
	"strings"
)

// Presentation is the non-vital context of an assessment.
type Presentation struct {
	Symptoms  string
	Age       int
	Sex       string
	Indicator string
}

// Result is the outcome of a classification. Reasons always has at least
// one entry and the first is the primary driver.
type Result struct {
	Score   float64  `json:"score"`
	Level   Level    `json:"level"`
	Reasons []string `json:"reasons"`
}

// Policy selects a classification strategy.
type Policy string

const (
	PolicyRuleBased      Policy = "rule_based"
	PolicyScoreThreshold Policy = "score_threshold"
)

// ParsePolicy parses a policy name; the empty string selects rule_based.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyRuleBased, nil
	case PolicyRuleBased, PolicyScoreThreshold:
		return p, nil
	}
	return "", fmt.Errorf("invalid triage policy: %q (valid: rule_based, score_threshold)", s)
}

// Scorer classifies a vital snapshot. Implementations are pure and safe for
// concurrent use.
type Scorer interface {
	Classify(v VitalSnapshot, p Presentation) Result
	Policy() Policy
}

// NewScorer builds the scorer for policy over a validated rule table.
func NewScorer(policy Policy, rules RuleTable) (Scorer, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rule table: %w", err)
	}
	switch policy {
	case PolicyRuleBased, "":
		return &RuleBasedScorer{rules: rules}, nil
	case PolicyScoreThreshold:
		return &ScoreThresholdScorer{rules: rules}, nil
	}
	return nil, fmt.Errorf("unknown triage policy %q", policy)
}

var defaultScorer = &RuleBasedScorer{rules: DefaultRules()}

// Classify runs the canonical rule-based scorer with the default rule table.
func Classify(v VitalSnapshot, p Presentation) Result {
	return defaultScorer.Classify(v, p)
}

// AcuityScore sums the weighted band contributions of every scored vital,
// unrounded.
func (t RuleTable) AcuityScore(v VitalSnapshot) float64 {
	var total float64
	for _, s := range t.Scales {
		x := v.Value(s.Vital)
		for _, b := range s.Bands {
			if b.matches(x) {
				total += b.Weight * s.Multiplier
				break
			}
		}
	}
	return total
}

// Round2 rounds to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// RuleBasedScorer applies the GCS override and then the rule groups in order.
type RuleBasedScorer struct {
	rules RuleTable
}

func (s *RuleBasedScorer) Policy() Policy { return PolicyRuleBased }

func (s *RuleBasedScorer) Classify(v VitalSnapshot, p Presentation) Result {
	score := Round2(s.rules.AcuityScore(v))

	if v.HasGCS {
		gcs := s.rules.GCS
		switch {
		case v.GCSTotal <= gcs.SevereMax:
			return Result{Score: score, Level: LevelRed, Reasons: []string{gcs.SevereReason}}
		case v.GCSTotal >= gcs.ModerateMin && v.GCSTotal <= gcs.ModerateMax:
			return Result{Score: score, Level: LevelYellow, Reasons: []string{gcs.ModerateReason}}
		}
	}

	symptoms := strings.ToLower(p.Symptoms)
	for _, g := range s.rules.Groups {
		if g.matches(v, symptoms) {
			return Result{Score: score, Level: g.Level, Reasons: []string{g.Reason}}
		}
	}
	fb := s.rules.Fallback
	return Result{Score: score, Level: fb.Level, Reasons: []string{fb.Reason}}
}

func (g RuleGroup) matches(v VitalSnapshot, symptoms string) bool {
	for _, c := range g.Criteria {
		if c.matches(v.Value(c.Vital)) {
			return true
		}
	}
	for _, kw := range g.Keywords {
		if kw != "" && strings.Contains(symptoms, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// ScoreThresholdScorer maps the acuity score straight to a level. It has no
// GCS override and ignores symptoms.
type ScoreThresholdScorer struct {
	rules RuleTable
}

func (s *ScoreThresholdScorer) Policy() Policy { return PolicyScoreThreshold }

func (s *ScoreThresholdScorer) Classify(v VitalSnapshot, _ Presentation) Result {
	score := Round2(s.rules.AcuityScore(v))
	for _, th := range s.rules.ScoreThresholds {
		if score > th.Above {
			return Result{Score: score, Level: th.Level, Reasons: []string{th.Reason}}
		}
	}
	fb := s.rules.ScoreFallback
	return Result{Score: score, Level: fb.Level, Reasons: []string{fb.Reason}}
}
