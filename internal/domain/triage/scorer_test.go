package triage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalVitals() VitalSnapshot {
	return VitalSnapshot{
		HeartRateBPM: 70,
		SystolicBP:   120,
		TempC:        37,
		SpO2Percent:  98,
		RespRateMin:  16,
		PainScore:    0,
	}
}

func withGCS(v VitalSnapshot, gcs float64) VitalSnapshot {
	v.GCSTotal = gcs
	v.HasGCS = true
	return v
}

func TestClassify_NormalVitalsAreBlue(t *testing.T) {
	got := Classify(normalVitals(), Presentation{})
	assert.Equal(t, LevelBlue, got.Level)
	assert.Equal(t, 0.0, got.Score)
	assert.Equal(t, []string{ReasonNormal}, got.Reasons)
}

func TestClassify_GCSOverride(t *testing.T) {
	deranged := VitalSnapshot{HeartRateBPM: 170, SystolicBP: 60, TempC: 41, SpO2Percent: 70, RespRateMin: 40, PainScore: 10}

	tests := []struct {
		name    string
		vitals  VitalSnapshot
		level   Level
		reasons []string
	}{
		{"gcs 7 normal vitals", withGCS(normalVitals(), 7), LevelRed, []string{ReasonSevereGCS}},
		{"gcs 8 boundary", withGCS(normalVitals(), 8), LevelRed, []string{ReasonSevereGCS}},
		{"gcs 3 deranged vitals", withGCS(deranged, 3), LevelRed, []string{ReasonSevereGCS}},
		{"gcs 10 normal vitals", withGCS(normalVitals(), 10), LevelYellow, []string{ReasonModerateGCS}},
		{"gcs 10 deranged vitals", withGCS(deranged, 10), LevelYellow, []string{ReasonModerateGCS}},
		{"gcs 12 boundary", withGCS(normalVitals(), 12), LevelYellow, []string{ReasonModerateGCS}},
		{"gcs 14 normal vitals", withGCS(normalVitals(), 14), LevelBlue, []string{ReasonNormal}},
		{"gcs 14 deranged vitals", withGCS(deranged, 14), LevelRed, []string{ReasonCritical}},
		{"gcs 12.5 falls through", withGCS(normalVitals(), 12.5), LevelBlue, []string{ReasonNormal}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.vitals, Presentation{})
			assert.Equal(t, tt.level, got.Level)
			assert.Equal(t, tt.reasons, got.Reasons)
		})
	}
}

func TestClassify_GCSOverrideKeepsScore(t *testing.T) {
	v := withGCS(normalVitals(), 7)
	v.HeartRateBPM = 160
	got := Classify(v, Presentation{})
	assert.Equal(t, LevelRed, got.Level)
	assert.Equal(t, 6.0, got.Score)
}

func TestAcuityScore_SingleBandPerVital(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name  string
		edit  func(*VitalSnapshot)
		score float64
	}{
		{"hr 160", func(v *VitalSnapshot) { v.HeartRateBPM = 160 }, 6.0},
		{"hr 135", func(v *VitalSnapshot) { v.HeartRateBPM = 135 }, 4.5},
		{"hr 20 inclusive", func(v *VitalSnapshot) { v.HeartRateBPM = 20 }, 6.0},
		{"hr 90 exclusive", func(v *VitalSnapshot) { v.HeartRateBPM = 90 }, 0},
		{"sbp 65", func(v *VitalSnapshot) { v.SystolicBP = 65 }, 7.2},
		{"sbp 180 inclusive", func(v *VitalSnapshot) { v.SystolicBP = 180 }, 5.4},
		{"sbp 95", func(v *VitalSnapshot) { v.SystolicBP = 95 }, 1.8},
		{"temp 40.5", func(v *VitalSnapshot) { v.TempC = 40.5 }, 4},
		{"temp 37.6", func(v *VitalSnapshot) { v.TempC = 37.6 }, 1},
		{"spo2 80", func(v *VitalSnapshot) { v.SpO2Percent = 80 }, 10},
		{"spo2 87", func(v *VitalSnapshot) { v.SpO2Percent = 87 }, 8},
		{"spo2 95", func(v *VitalSnapshot) { v.SpO2Percent = 95 }, 2},
		{"rr 35 inclusive", func(v *VitalSnapshot) { v.RespRateMin = 35 }, 6},
		{"rr 21 inclusive", func(v *VitalSnapshot) { v.RespRateMin = 21 }, 1.5},
		{"pain 10", func(v *VitalSnapshot) { v.PainScore = 10 }, 4},
		{"pain 3", func(v *VitalSnapshot) { v.PainScore = 3 }, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := normalVitals()
			tt.edit(&v)
			assert.InDelta(t, tt.score, rules.AcuityScore(v), 1e-9)
		})
	}
}

func TestClassify_RuleGroups(t *testing.T) {
	tests := []struct {
		name     string
		edit     func(*VitalSnapshot)
		symptoms string
		level    Level
		reason   string
	}{
		{"spo2 87", func(v *VitalSnapshot) { v.SpO2Percent = 87 }, "", LevelRed, ReasonCritical},
		{"sbp 85", func(v *VitalSnapshot) { v.SystolicBP = 85 }, "", LevelRed, ReasonCritical},
		{"rr 9", func(v *VitalSnapshot) { v.RespRateMin = 9 }, "", LevelRed, ReasonCritical},
		{"rr 31", func(v *VitalSnapshot) { v.RespRateMin = 31 }, "", LevelRed, ReasonCritical},
		{"rr 30 inside", func(v *VitalSnapshot) { v.RespRateMin = 30 }, "", LevelBlue, ReasonNormal},
		{"hr 141", func(v *VitalSnapshot) { v.HeartRateBPM = 141 }, "", LevelRed, ReasonCritical},
		{"severe chest pain keyword", nil, "SEVERE Chest Pain since noon", LevelRed, ReasonCritical},
		{"sbp 95", func(v *VitalSnapshot) { v.SystolicBP = 95 }, "", LevelYellow, ReasonUrgent},
		{"spo2 92", func(v *VitalSnapshot) { v.SpO2Percent = 92 }, "", LevelYellow, ReasonUrgent},
		{"temp 39.6", func(v *VitalSnapshot) { v.TempC = 39.6 }, "", LevelYellow, ReasonUrgent},
		{"rr 27", func(v *VitalSnapshot) { v.RespRateMin = 27 }, "", LevelYellow, ReasonUrgent},
		{"hr 120", func(v *VitalSnapshot) { v.HeartRateBPM = 120 }, "", LevelYellow, ReasonUrgent},
		{"pain 7", func(v *VitalSnapshot) { v.PainScore = 7 }, "", LevelYellow, ReasonUrgent},
		{"chest pain keyword", nil, "mild chest pain", LevelYellow, ReasonUrgent},
		{"trauma keyword", nil, "Blunt TRAUMA", LevelYellow, ReasonUrgent},
		{"temp 39.5 inclusive", func(v *VitalSnapshot) { v.TempC = 39.5 }, "", LevelGreen, ReasonSymptomatic},
		{"temp 38.5", func(v *VitalSnapshot) { v.TempC = 38.5 }, "", LevelGreen, ReasonSymptomatic},
		{"pain 5", func(v *VitalSnapshot) { v.PainScore = 5 }, "", LevelGreen, ReasonSymptomatic},
		{"spo2 94", func(v *VitalSnapshot) { v.SpO2Percent = 94 }, "", LevelGreen, ReasonSymptomatic},
		{"unmatched symptoms", nil, "headache", LevelBlue, ReasonNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := normalVitals()
			if tt.edit != nil {
				tt.edit(&v)
			}
			got := Classify(v, Presentation{Symptoms: tt.symptoms})
			assert.Equal(t, tt.level, got.Level)
			require.Len(t, got.Reasons, 1)
			assert.Equal(t, tt.reason, got.Reasons[0])
		})
	}
}

func TestClassify_LowSpO2Example(t *testing.T) {
	v := normalVitals()
	v.SpO2Percent = 87
	got := Classify(v, Presentation{})
	assert.Equal(t, Result{Score: 8.0, Level: LevelRed, Reasons: []string{ReasonCritical}}, got)
}

func TestClassify_SystolicYellowExample(t *testing.T) {
	v := VitalSnapshot{SystolicBP: 95, SpO2Percent: 100, HeartRateBPM: 70, RespRateMin: 16, TempC: 37, PainScore: 0}
	got := Classify(v, Presentation{})
	assert.Equal(t, LevelYellow, got.Level)
	assert.Equal(t, []string{ReasonUrgent}, got.Reasons)
	assert.Equal(t, 1.8, got.Score)
}

func TestClassify_ZeroVitalsFromJunkInput(t *testing.T) {
	// Every unparseable reading becomes 0, which is deeply abnormal.
	var raw RawVitals
	got := Classify(raw.Snapshot(), Presentation{})
	assert.Equal(t, LevelRed, got.Level)
	assert.Equal(t, []string{ReasonCritical}, got.Reasons)
	// hr 6 + sbp 7.2 + temp 4 + spo2 10 + rr 6
	assert.Equal(t, 33.2, got.Score)
}

func TestClassify_Deterministic(t *testing.T) {
	v := VitalSnapshot{HeartRateBPM: 133.3, SystolicBP: 87.1, TempC: 38.91, SpO2Percent: 91.7, RespRateMin: 23, PainScore: 6}
	first := Classify(v, Presentation{Symptoms: "trauma"})
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Classify(v, Presentation{Symptoms: "trauma"}))
	}
}

func TestScoreThresholdScorer(t *testing.T) {
	s, err := NewScorer(PolicyScoreThreshold, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, PolicyScoreThreshold, s.Policy())

	tests := []struct {
		name  string
		v     VitalSnapshot
		level Level
	}{
		{"normal", normalVitals(), LevelBlue},
		// spo2 80 (10) + hr 160 (6) + sbp 65 (7.2) = 23.2
		{"above 20", VitalSnapshot{HeartRateBPM: 160, SystolicBP: 65, TempC: 37, SpO2Percent: 80, RespRateMin: 16}, LevelRed},
		// spo2 80 (10) + hr 160 (6) = 16
		{"above 15", VitalSnapshot{HeartRateBPM: 160, SystolicBP: 120, TempC: 37, SpO2Percent: 80, RespRateMin: 16}, LevelOrange},
		// spo2 80 (10) + pain 3 (0.8) = 10.8
		{"above 10", VitalSnapshot{HeartRateBPM: 70, SystolicBP: 120, TempC: 37, SpO2Percent: 80, RespRateMin: 16, PainScore: 3}, LevelYellow},
		// spo2 91 (6)
		{"above 3", VitalSnapshot{HeartRateBPM: 70, SystolicBP: 120, TempC: 37, SpO2Percent: 91, RespRateMin: 16}, LevelGreen},
		// gcs has no effect under this policy
		{"gcs ignored", withGCS(normalVitals(), 5), LevelBlue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Classify(tt.v, Presentation{Symptoms: "severe chest pain"})
			assert.Equal(t, tt.level, got.Level)
			assert.Len(t, got.Reasons, 1)
		})
	}
}

func TestNewScorer(t *testing.T) {
	s, err := NewScorer(PolicyRuleBased, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, PolicyRuleBased, s.Policy())

	_, err = NewScorer("coin_flip", DefaultRules())
	assert.Error(t, err)

	bad := DefaultRules()
	bad.Fallback.Reason = ""
	_, err = NewScorer(PolicyRuleBased, bad)
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyRuleBased, p)

	p, err = ParsePolicy(" Score_Threshold ")
	require.NoError(t, err)
	assert.Equal(t, PolicyScoreThreshold, p)

	_, err = ParsePolicy("news2")
	assert.Error(t, err)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 4.5, Round2(1.5*3))
	assert.Equal(t, 1.8, Round2(1*1.8))
	assert.Equal(t, 0.33, Round2(1.0/3))
}

func TestRuleTable_Validate(t *testing.T) {
	require.NoError(t, DefaultRules().Validate())

	tests := []struct {
		name string
		edit func(*RuleTable)
	}{
		{"no scales", func(r *RuleTable) { r.Scales = nil }},
		{"unknown scale vital", func(r *RuleTable) { r.Scales[0].Vital = "bmi" }},
		{"gcs scale", func(r *RuleTable) { r.Scales[0].Vital = VitalGCS }},
		{"zero multiplier", func(r *RuleTable) { r.Scales[0].Multiplier = 0 }},
		{"band without bounds", func(r *RuleTable) { r.Scales[0].Bands[0] = Band{Weight: 1} }},
		{"group unknown level", func(r *RuleTable) { r.Groups[0].Level = "PURPLE" }},
		{"group empty reason", func(r *RuleTable) { r.Groups[1].Reason = "" }},
		{"criterion unknown vital", func(r *RuleTable) { r.Groups[0].Criteria[0].Vital = "bmi" }},
		{"gcs empty reason", func(r *RuleTable) { r.GCS.SevereReason = "" }},
		{"thresholds out of order", func(r *RuleTable) { r.ScoreThresholds[1].Above = 25 }},
		{"bad score fallback", func(r *RuleTable) { r.ScoreFallback.Level = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRules()
			tt.edit(&r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestLoadRules(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		r, err := LoadRules("")
		require.NoError(t, err)
		assert.Equal(t, DefaultRules(), r)
	})

	t.Run("override respiratory boundaries", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		doc := `
groups:
  - level: RED
    reason: Critical vital instability
    criteria:
      - vital: resp_rate_min
        min: {value: 10}
        max: {value: 30}
        outside: true
  - level: GREEN
    reason: Stable but symptomatic
    keywords: [cough]
    criteria:
      - vital: pain_score
        min: {value: 5, inclusive: true}
`
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

		r, err := LoadRules(path)
		require.NoError(t, err)
		require.Len(t, r.Groups, 2)
		assert.Equal(t, DefaultRules().Scales, r.Scales)

		s, err := NewScorer(PolicyRuleBased, r)
		require.NoError(t, err)

		v := normalVitals()
		v.RespRateMin = 10
		assert.Equal(t, LevelRed, s.Classify(v, Presentation{}).Level)

		assert.Equal(t, LevelGreen, s.Classify(normalVitals(), Presentation{Symptoms: "Dry cough"}).Level)
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("fallback: {level: PURPLE, reason: x}\n"), 0o600))
		_, err := LoadRules(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
