package triage

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bound is one edge of a threshold. Inclusive decides whether a reading
// equal to Value is on the matching side.
type Bound struct {
	Value     float64 `yaml:"value" json:"value"`
	Inclusive bool    `yaml:"inclusive,omitempty" json:"inclusive,omitempty"`
}

func excl(v float64) *Bound { return &Bound{Value: v} }
func incl(v float64) *Bound { return &Bound{Value: v, Inclusive: true} }

func (b *Bound) exceededBy(x float64) bool {
	return x > b.Value || (b.Inclusive && x == b.Value)
}

func (b *Bound) undercutBy(x float64) bool {
	return x < b.Value || (b.Inclusive && x == b.Value)
}

// Band contributes Weight when a reading is above High or below Low.
type Band struct {
	Weight float64 `yaml:"weight" json:"weight"`
	High   *Bound  `yaml:"high,omitempty" json:"high,omitempty"`
	Low    *Bound  `yaml:"low,omitempty" json:"low,omitempty"`
}

func (b Band) matches(x float64) bool {
	return (b.High != nil && b.High.exceededBy(x)) || (b.Low != nil && b.Low.undercutBy(x))
}

// VitalScale is the ordered band list for one vital, most severe first.
// Only the first matching band counts.
type VitalScale struct {
	Vital      Vital   `yaml:"vital" json:"vital"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	Bands      []Band  `yaml:"bands" json:"bands"`
}

// Criterion matches when a reading lies between Min and Max, or outside
// that interval when Outside is set. A nil edge is unbounded.
type Criterion struct {
	Vital   Vital  `yaml:"vital" json:"vital"`
	Min     *Bound `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *Bound `yaml:"max,omitempty" json:"max,omitempty"`
	Outside bool   `yaml:"outside,omitempty" json:"outside,omitempty"`
}

func (c Criterion) matches(x float64) bool {
	within := (c.Min == nil || c.Min.exceededBy(x)) && (c.Max == nil || c.Max.undercutBy(x))
	return within != c.Outside
}

// RuleGroup assigns Level when any criterion or symptom keyword matches.
type RuleGroup struct {
	Level    Level       `yaml:"level" json:"level"`
	Reason   string      `yaml:"reason" json:"reason"`
	Criteria []Criterion `yaml:"criteria" json:"criteria"`
	Keywords []string    `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// Outcome is a fixed level/reason pair.
type Outcome struct {
	Level  Level  `yaml:"level" json:"level"`
	Reason string `yaml:"reason" json:"reason"`
}

// GCSOverride short-circuits rule evaluation for depressed consciousness.
type GCSOverride struct {
	SevereMax      float64 `yaml:"severe_max" json:"severe_max"`
	SevereReason   string  `yaml:"severe_reason" json:"severe_reason"`
	ModerateMin    float64 `yaml:"moderate_min" json:"moderate_min"`
	ModerateMax    float64 `yaml:"moderate_max" json:"moderate_max"`
	ModerateReason string  `yaml:"moderate_reason" json:"moderate_reason"`
}

// ScoreThreshold maps an acuity score strictly above Above to a level.
type ScoreThreshold struct {
	Above  float64 `yaml:"above" json:"above"`
	Level  Level   `yaml:"level" json:"level"`
	Reason string  `yaml:"reason" json:"reason"`
}

// RuleTable holds every threshold the scorers use.
type RuleTable struct {
	Scales          []VitalScale     `yaml:"scales" json:"scales"`
	GCS             GCSOverride      `yaml:"gcs" json:"gcs"`
	Groups          []RuleGroup      `yaml:"groups" json:"groups"`
	Fallback        Outcome          `yaml:"fallback" json:"fallback"`
	ScoreThresholds []ScoreThreshold `yaml:"score_thresholds" json:"score_thresholds"`
	ScoreFallback   Outcome          `yaml:"score_fallback" json:"score_fallback"`
}

const (
	ReasonSevereGCS   = "Severely altered consciousness (GCS ≤ 8)"
	ReasonModerateGCS = "Moderately altered consciousness (GCS 9–12)"
	ReasonCritical    = "Critical vital instability"
	ReasonUrgent      = "Urgent condition (moderate to severe deviation)"
	ReasonSymptomatic = "Stable but symptomatic"
	ReasonNormal      = "Normal condition"
)

// DefaultRules returns the canonical rule table.
func DefaultRules() RuleTable {
	return RuleTable{
		Scales: []VitalScale{
			{Vital: VitalHeartRate, Multiplier: 1.5, Bands: []Band{
				{Weight: 4, High: excl(150), Low: incl(20)},
				{Weight: 3, High: excl(130), Low: incl(30)},
				{Weight: 2, High: excl(110), Low: incl(40)},
				{Weight: 1, High: excl(90), Low: incl(50)},
			}},
			{Vital: VitalSystolicBP, Multiplier: 1.8, Bands: []Band{
				{Weight: 4, Low: excl(70)},
				{Weight: 3, Low: excl(80), High: incl(180)},
				{Weight: 2, Low: excl(90), High: incl(160)},
				{Weight: 1, Low: excl(100), High: incl(140)},
			}},
			{Vital: VitalTemperature, Multiplier: 1.0, Bands: []Band{
				{Weight: 4, High: excl(40), Low: excl(34)},
				{Weight: 3, High: excl(39), Low: excl(35)},
				{Weight: 2, High: excl(38), Low: excl(36)},
				{Weight: 1, High: excl(37.5)},
			}},
			{Vital: VitalSpO2, Multiplier: 2.0, Bands: []Band{
				{Weight: 5, Low: excl(85)},
				{Weight: 4, Low: excl(90)},
				{Weight: 3, Low: excl(92)},
				{Weight: 2, Low: excl(94)},
				{Weight: 1, Low: excl(96)},
			}},
			{Vital: VitalRespRate, Multiplier: 1.5, Bands: []Band{
				{Weight: 4, High: incl(35), Low: incl(6)},
				{Weight: 3, High: incl(30), Low: incl(7)},
				{Weight: 2, High: incl(25), Low: incl(9)},
				{Weight: 1, High: incl(21), Low: incl(11)},
			}},
			{Vital: VitalPain, Multiplier: 0.8, Bands: []Band{
				{Weight: 5, High: incl(10)},
				{Weight: 4, High: incl(9)},
				{Weight: 3, High: incl(7)},
				{Weight: 2, High: incl(5)},
				{Weight: 1, High: incl(3)},
			}},
		},
		GCS: GCSOverride{
			SevereMax:      8,
			SevereReason:   ReasonSevereGCS,
			ModerateMin:    9,
			ModerateMax:    12,
			ModerateReason: ReasonModerateGCS,
		},
		Groups: []RuleGroup{
			{
				Level:  LevelRed,
				Reason: ReasonCritical,
				Criteria: []Criterion{
					{Vital: VitalSpO2, Max: excl(90)},
					{Vital: VitalSystolicBP, Max: excl(90)},
					{Vital: VitalRespRate, Min: incl(10), Max: incl(30), Outside: true},
					{Vital: VitalHeartRate, Min: incl(40), Max: incl(140), Outside: true},
				},
				Keywords: []string{"severe chest pain"},
			},
			{
				Level:  LevelYellow,
				Reason: ReasonUrgent,
				Criteria: []Criterion{
					{Vital: VitalSystolicBP, Min: incl(90), Max: incl(100)},
					{Vital: VitalSpO2, Min: incl(90), Max: incl(93)},
					{Vital: VitalTemperature, Min: excl(39.5)},
					{Vital: VitalRespRate, Min: incl(25), Max: incl(29)},
					{Vital: VitalHeartRate, Min: incl(110), Max: incl(139)},
					{Vital: VitalPain, Min: incl(7)},
				},
				Keywords: []string{"chest pain", "trauma"},
			},
			{
				Level:  LevelGreen,
				Reason: ReasonSymptomatic,
				Criteria: []Criterion{
					{Vital: VitalTemperature, Min: incl(38.5), Max: incl(39.5)},
					{Vital: VitalPain, Min: incl(5), Max: incl(6)},
					{Vital: VitalSpO2, Min: incl(94), Max: incl(95)},
				},
			},
		},
		Fallback: Outcome{Level: LevelBlue, Reason: ReasonNormal},
		ScoreThresholds: []ScoreThreshold{
			{Above: 20, Level: LevelRed, Reason: "Acuity score above 20"},
			{Above: 15, Level: LevelOrange, Reason: "Acuity score above 15"},
			{Above: 10, Level: LevelYellow, Reason: "Acuity score above 10"},
			{Above: 3, Level: LevelGreen, Reason: "Acuity score above 3"},
		},
		ScoreFallback: Outcome{Level: LevelBlue, Reason: "Acuity score 3 or below"},
	}
}

// Validate reports the first structural problem in the table.
func (t RuleTable) Validate() error {
	if len(t.Scales) == 0 {
		return errors.New("rule table has no vital scales")
	}
	for _, s := range t.Scales {
		if !s.Vital.valid() || s.Vital == VitalGCS {
			return fmt.Errorf("scale: unknown vital %q", s.Vital)
		}
		if s.Multiplier <= 0 {
			return fmt.Errorf("scale %s: multiplier must be positive", s.Vital)
		}
		for i, b := range s.Bands {
			if b.Weight <= 0 {
				return fmt.Errorf("scale %s band %d: weight must be positive", s.Vital, i)
			}
			if b.High == nil && b.Low == nil {
				return fmt.Errorf("scale %s band %d: needs a high or low bound", s.Vital, i)
			}
		}
	}
	if t.GCS.SevereReason == "" || t.GCS.ModerateReason == "" {
		return errors.New("gcs override reasons must not be empty")
	}
	if t.GCS.ModerateMin > t.GCS.ModerateMax {
		return errors.New("gcs moderate_min exceeds moderate_max")
	}
	for i, g := range t.Groups {
		if !g.Level.Known() {
			return fmt.Errorf("group %d: unknown level %q", i, g.Level)
		}
		if g.Reason == "" {
			return fmt.Errorf("group %d (%s): reason must not be empty", i, g.Level)
		}
		for _, c := range g.Criteria {
			if !c.Vital.valid() || c.Vital == VitalGCS {
				return fmt.Errorf("group %d (%s): unknown vital %q", i, g.Level, c.Vital)
			}
			if c.Min == nil && c.Max == nil {
				return fmt.Errorf("group %d (%s): criterion on %s needs a min or max", i, g.Level, c.Vital)
			}
		}
	}
	if err := t.Fallback.validate("fallback"); err != nil {
		return err
	}
	for i, th := range t.ScoreThresholds {
		if !th.Level.Known() || th.Reason == "" {
			return fmt.Errorf("score threshold %d: level and reason are required", i)
		}
		if i > 0 && th.Above >= t.ScoreThresholds[i-1].Above {
			return fmt.Errorf("score thresholds must be in descending order at %d", i)
		}
	}
	return t.ScoreFallback.validate("score_fallback")
}

func (o Outcome) validate(name string) error {
	if !o.Level.Known() {
		return fmt.Errorf("%s: unknown level %q", name, o.Level)
	}
	if o.Reason == "" {
		return fmt.Errorf("%s: reason must not be empty", name)
	}
	return nil
}

// LoadRules reads a YAML rule table. Top-level keys missing from the file
// keep their default values; lists present in the file replace the default
// list entirely.
func LoadRules(path string) (RuleTable, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleTable{}, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RuleTable{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return RuleTable{}, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rules, nil
}
