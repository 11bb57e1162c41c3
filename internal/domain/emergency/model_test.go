package emergency

import (
	"testing"

	"github.com/ertriage/ertriage/internal/domain/triage"
)

func TestVitalSigns_BP(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name string
		v    *VitalSigns
		want string
	}{
		{"nil", nil, ""},
		{"none", &VitalSigns{}, ""},
		{"both", &VitalSigns{SystolicBP: f(120), DiastolicBP: f(80)}, "120/80"},
		{"fractional", &VitalSigns{SystolicBP: f(119.5), DiastolicBP: f(79)}, "119.5/79"},
		{"systolic only", &VitalSigns{SystolicBP: f(95)}, "95/-"},
		{"diastolic only", &VitalSigns{DiastolicBP: f(60)}, "-/60"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.BP(); got != tt.want {
				t.Errorf("BP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewVitalSigns_NullsInvalidReadings(t *testing.T) {
	raw := triage.RawVitals{HeartRateBPM: triage.Num(72)}
	v := NewVitalSigns(raw)
	if v.HeartRateBPM == nil || *v.HeartRateBPM != 72 {
		t.Errorf("expected heart rate 72, got %v", v.HeartRateBPM)
	}
	if v.TempC != nil || v.GCSTotal != nil {
		t.Error("expected missing readings to be nil")
	}
}

func TestSummary_Add(t *testing.T) {
	var s Summary
	s.Add(triage.LevelRed, triage.StatusWaiting)
	s.Add(triage.LevelOrange, triage.StatusWaiting)
	s.Add(triage.LevelYellow, triage.StatusUnderTreatment)
	s.Add(triage.LevelGreen, triage.StatusWaiting)
	s.Add(triage.LevelBlue, triage.StatusDischarged)
	s.Add(triage.LevelRed, triage.StatusDeceased)
	s.Add("", triage.StatusWaiting)

	want := Summary{Total: 7, Critical: 2, Urgent: 2, Mild: 1, Minor: 1, Deceased: 1}
	if s != want {
		t.Errorf("got %+v, want %+v", s, want)
	}
}

func TestPatient_FullName(t *testing.T) {
	p := Patient{FirstName: "Ana", LastName: "Ruiz"}
	if got := p.FullName(); got != "Ana Ruiz" {
		t.Errorf("FullName() = %q", got)
	}
}
