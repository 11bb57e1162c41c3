package emergency

import (
	"strconv"
	"strings"
	"time"

	"github.com/ertriage/ertriage/internal/domain/triage"
)

// Patient maps to the patients table.
type Patient struct {
	ID           int64         `db:"id" json:"patient_id"`
	NationalID   string        `db:"national_id" json:"national_id"`
	FirstName    string        `db:"first_name" json:"first_name"`
	LastName     string        `db:"last_name" json:"last_name"`
	Sex          string        `db:"sex" json:"sex"`
	DateOfBirth  *time.Time    `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Indicator    string        `db:"indicator" json:"indicator"`
	Symptoms     string        `db:"symptoms" json:"symptoms"`
	TriageLevel  triage.Level  `db:"triage_level" json:"triage_level"`
	TriageScore  float64       `db:"triage_score" json:"triage_score"`
	TriageReason string        `db:"triage_reason" json:"triage_reason"`
	Status       triage.Status `db:"status_name" json:"status_name"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last name with a single space.
func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// VitalSigns maps to the vital_signs table. Unparseable readings are stored
// as NULL.
type VitalSigns struct {
	ID           int64     `db:"id" json:"id"`
	PatientID    int64     `db:"patient_id" json:"patient_id"`
	HeartRateBPM *float64  `db:"heart_rate_bpm" json:"heart_rate_bpm"`
	RespRateMin  *float64  `db:"resp_rate_min" json:"resp_rate_min"`
	SystolicBP   *float64  `db:"systolic_bp" json:"systolic_bp"`
	DiastolicBP  *float64  `db:"diastolic_bp" json:"diastolic_bp"`
	TempC        *float64  `db:"temp_c" json:"temp_c"`
	SpO2Percent  *float64  `db:"spo2_percent" json:"spo2_percent"`
	GCSTotal     *float64  `db:"gcs_total" json:"gcs_total"`
	PainScore    *float64  `db:"pain_score" json:"pain_score"`
	RecordedAt   time.Time `db:"recorded_at" json:"recorded_at"`
}

// NewVitalSigns converts a wire submission into a row.
func NewVitalSigns(raw triage.RawVitals) *VitalSigns {
	return &VitalSigns{
		HeartRateBPM: raw.HeartRateBPM.Ptr(),
		RespRateMin:  raw.RespRateMin.Ptr(),
		SystolicBP:   raw.SystolicBP.Ptr(),
		DiastolicBP:  raw.DiastolicBP.Ptr(),
		TempC:        raw.TempC.Ptr(),
		SpO2Percent:  raw.SpO2Percent.Ptr(),
		GCSTotal:     raw.GCSTotal.Ptr(),
		PainScore:    raw.PainScore.Ptr(),
	}
}

// BP renders blood pressure as "systolic/diastolic", with "-" for a missing
// side and "" when neither was recorded.
func (v *VitalSigns) BP() string {
	if v == nil || (v.SystolicBP == nil && v.DiastolicBP == nil) {
		return ""
	}
	return formatReading(v.SystolicBP) + "/" + formatReading(v.DiastolicBP)
}

func formatReading(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

// PatientRecord is a patient with its most recent vital signs, which may be
// nil.
type PatientRecord struct {
	Patient
	Vitals *VitalSigns
}

// StatusLogEntry maps to the status_log table.
type StatusLogEntry struct {
	ID        int64         `db:"id" json:"id"`
	PatientID int64         `db:"patient_id" json:"patient_id"`
	Status    triage.Status `db:"status_name" json:"status_name"`
	ChangedAt time.Time     `db:"changed_at" json:"changed_at"`
}

// ColorLogEntry maps to the color_log table.
type ColorLogEntry struct {
	ID        int64        `db:"id" json:"id"`
	PatientID int64        `db:"patient_id" json:"patient_id"`
	Level     triage.Level `db:"triage_level" json:"triage_level"`
	ChangedAt time.Time    `db:"changed_at" json:"changed_at"`
}

// PatientView is one dashboard row.
type PatientView struct {
	Priority     int           `json:"priority"`
	PatientID    int64         `json:"patient_id"`
	FullName     string        `json:"full_name"`
	NationalID   string        `json:"national_id"`
	Sex          string        `json:"sex"`
	Indicator    string        `json:"indicator"`
	Symptoms     string        `json:"symptoms"`
	TriageLevel  triage.Level  `json:"triage_level"`
	TriageScore  float64       `json:"triage_score"`
	TriageReason string        `json:"triage_reason"`
	StatusName   triage.Status `json:"status_name"`
	HeartRateBPM *float64      `json:"heart_rate_bpm"`
	RespRateMin  *float64      `json:"resp_rate_min"`
	BP           string        `json:"bp"`
	TempC        *float64      `json:"temp_c"`
	SpO2Percent  *float64      `json:"spo2_percent"`
	GCSTotal     *float64      `json:"gcs_total"`
	PainScore    *float64      `json:"pain_score"`
	AdmittedAt   time.Time     `json:"admitted_at"`
}

// NewPatientView flattens a record for the dashboard. Priority is left zero.
func NewPatientView(rec *PatientRecord) PatientView {
	v := PatientView{
		PatientID:    rec.ID,
		FullName:     rec.FullName(),
		NationalID:   rec.NationalID,
		Sex:          rec.Sex,
		Indicator:    rec.Indicator,
		Symptoms:     rec.Symptoms,
		TriageLevel:  rec.TriageLevel,
		TriageScore:  rec.TriageScore,
		TriageReason: rec.TriageReason,
		StatusName:   rec.Status,
		AdmittedAt:   rec.CreatedAt,
	}
	if vs := rec.Vitals; vs != nil {
		v.HeartRateBPM = vs.HeartRateBPM
		v.RespRateMin = vs.RespRateMin
		v.BP = vs.BP()
		v.TempC = vs.TempC
		v.SpO2Percent = vs.SpO2Percent
		v.GCSTotal = vs.GCSTotal
		v.PainScore = vs.PainScore
	}
	return v
}

// matches reports whether q (already lower-cased) occurs in the id, full
// name or symptoms.
func (v *PatientView) matches(q string) bool {
	if q == "" {
		return true
	}
	return strings.Contains(strconv.FormatInt(v.PatientID, 10), q) ||
		strings.Contains(strings.ToLower(v.FullName), q) ||
		strings.Contains(strings.ToLower(v.Symptoms), q)
}

// Summary holds the dashboard counters.
type Summary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	Urgent   int `json:"urgent"`
	Mild     int `json:"mild"`
	Minor    int `json:"minor"`
	Deceased int `json:"deceased"`
}

// Add counts one patient.
func (s *Summary) Add(level triage.Level, status triage.Status) {
	s.Total++
	switch level {
	case triage.LevelRed:
		s.Critical++
	case triage.LevelOrange, triage.LevelYellow:
		s.Urgent++
	case triage.LevelGreen:
		s.Mild++
	case triage.LevelBlue:
		s.Minor++
	}
	if status == triage.StatusDeceased {
		s.Deceased++
	}
}

// AdmissionRequest is the body of POST /patients.
type AdmissionRequest struct {
	NationalID  string           `json:"national_id"`
	FirstName   string           `json:"first_name"`
	LastName    string           `json:"last_name"`
	Sex         string           `json:"sex"`
	DateOfBirth string           `json:"date_of_birth"`
	Indicator   string           `json:"indicator"`
	Symptoms    string           `json:"symptoms"`
	Vital       triage.RawVitals `json:"vital"`
}

// AdmissionResult is returned after a successful admission.
type AdmissionResult struct {
	Message   string       `json:"message"`
	PatientID int64        `json:"patient_id"`
	Triage    triage.Level `json:"triage"`
	Score     float64      `json:"score"`
	Reasoning []string     `json:"reasoning"`
}

// ClassifyRequest is the body of POST /triage/classify. Age wins over
// DateOfBirth when both are set.
type ClassifyRequest struct {
	Vital       triage.RawVitals `json:"vital"`
	Symptoms    string           `json:"symptoms"`
	Age         *int             `json:"age,omitempty"`
	DateOfBirth string           `json:"date_of_birth"`
	Sex         string           `json:"sex"`
	Indicator   string           `json:"indicator"`
}

// ClassifyResult is a classification that was not persisted.
type ClassifyResult struct {
	Policy    triage.Policy `json:"policy"`
	Triage    triage.Level  `json:"triage"`
	Score     float64       `json:"score"`
	Reasoning []string      `json:"reasoning"`
}

// StatusUpdate reports the outcome of a status change.
type StatusUpdate struct {
	PatientID      int64         `json:"patient_id"`
	Status         triage.Status `json:"status_name"`
	PreviousStatus triage.Status `json:"previous_status"`
	Level          triage.Level  `json:"triage_level"`
	PreviousLevel  triage.Level  `json:"previous_level"`
	Score          float64       `json:"triage_score"`
	Changed        bool          `json:"changed"`
}

// ListQuery filters and pages the dashboard list. Limit 0 returns every
// match.
type ListQuery struct {
	Search string
	Limit  int
	Offset int
}

// PatientPage is one page of the ranked dashboard. Priority reflects the
// position in the whole department, not in the page. Summary always covers
// every patient.
type PatientPage struct {
	Patients []PatientView
	Total    int
	Summary  Summary
}
