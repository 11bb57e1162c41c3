package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Vital names a scored reading. The values double as the wire field names.
type Vital string

const (
	VitalHeartRate   Vital = "heart_rate_bpm"
	VitalSystolicBP  Vital = "systolic_bp"
	VitalTemperature Vital = "temp_c"
	VitalSpO2        Vital = "spo2_percent"
	VitalRespRate    Vital = "resp_rate_min"
	VitalPain        Vital = "pain_score"
	VitalGCS         Vital = "gcs_total"
)

func (v Vital) valid() bool {
	switch v {
	case VitalHeartRate, VitalSystolicBP, VitalTemperature, VitalSpO2, VitalRespRate, VitalPain, VitalGCS:
		return true
	}
	return false
}

// Reading is a single submitted measurement. Submissions come from HTML
// forms, so a value may arrive as a JSON number, a numeric string, junk, or
// not at all; Valid is false for everything that does not parse.
type Reading struct {
	Value float64
	Valid bool
}

// Num returns a valid reading.
func Num(v float64) Reading { return Reading{Value: v, Valid: true} }

// OrZero returns the value, or 0 when the reading did not parse.
func (r Reading) OrZero() float64 {
	if !r.Valid {
		return 0
	}
	return r.Value
}

// Ptr returns nil for an invalid reading, for nullable columns.
func (r Reading) Ptr() *float64 {
	if !r.Valid {
		return nil
	}
	v := r.Value
	return &v
}

// ReadingFrom converts a nullable column back into a Reading.
func ReadingFrom(p *float64) Reading {
	if p == nil {
		return Reading{}
	}
	return Num(*p)
}

func (r *Reading) UnmarshalJSON(data []byte) error {
	*r = Reading{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		r.Value, r.Valid = ParseLenient(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		v, err := strconv.ParseFloat(string(data), 64)
		if err == nil {
			r.Value, r.Valid = v, true
		}
	}
	// Booleans, objects and arrays stay invalid rather than failing the request.
	return nil
}

func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// ParseLenient parses the longest leading decimal number in s, the way a
// browser's parseFloat does: "98%" is 98, "  37.5C" is 37.5, "abc" fails.
func ParseLenient(s string) (float64, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	end := i
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			end = k
		}
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// RawVitals is the wire form of a vital-signs submission.
type RawVitals struct {
	HeartRateBPM Reading `json:"heart_rate_bpm"`
	RespRateMin  Reading `json:"resp_rate_min"`
	SystolicBP   Reading `json:"systolic_bp"`
	DiastolicBP  Reading `json:"diastolic_bp"`
	TempC        Reading `json:"temp_c"`
	SpO2Percent  Reading `json:"spo2_percent"`
	GCSTotal     Reading `json:"gcs_total"`
	PainScore    Reading `json:"pain_score"`
}

// Snapshot applies the fail-soft substitution: unparseable readings become 0,
// except GCS which becomes absent.
func (r RawVitals) Snapshot() VitalSnapshot {
	return VitalSnapshot{
		HeartRateBPM: r.HeartRateBPM.OrZero(),
		SystolicBP:   r.SystolicBP.OrZero(),
		TempC:        r.TempC.OrZero(),
		SpO2Percent:  r.SpO2Percent.OrZero(),
		RespRateMin:  r.RespRateMin.OrZero(),
		PainScore:    r.PainScore.OrZero(),
		GCSTotal:     r.GCSTotal.Value,
		HasGCS:       r.GCSTotal.Valid,
	}
}

// VitalSnapshot is the scorer's input.
type VitalSnapshot struct {
	HeartRateBPM float64
	SystolicBP   float64
	TempC        float64
	SpO2Percent  float64
	RespRateMin  float64
	PainScore    float64
	GCSTotal     float64
	HasGCS       bool
}

// Value returns the reading for a vital. GCS returns 0 when absent; callers
// check HasGCS first.
func (v VitalSnapshot) Value(name Vital) float64 {
	switch name {
	case VitalHeartRate:
		return v.HeartRateBPM
	case VitalSystolicBP:
		return v.SystolicBP
	case VitalTemperature:
		return v.TempC
	case VitalSpO2:
		return v.SpO2Percent
	case VitalRespRate:
		return v.RespRateMin
	case VitalPain:
		return v.PainScore
	case VitalGCS:
		if v.HasGCS {
			return v.GCSTotal
		}
	}
	return 0
}

func (v VitalSnapshot) String() string {
	gcs := "n/a"
	if v.HasGCS {
		gcs = strconv.FormatFloat(v.GCSTotal, 'f', -1, 64)
	}
	return fmt.Sprintf("HR=%g SBP=%g T=%g SpO2=%g RR=%g Pain=%g GCS=%s",
		v.HeartRateBPM, v.SystolicBP, v.TempC, v.SpO2Percent, v.RespRateMin, v.PainScore, gcs)
}
