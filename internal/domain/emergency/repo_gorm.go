package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ertriage/ertriage/internal/domain/triage"
)

type patientRow struct {
	ID           int64      `gorm:"primaryKey;autoIncrement"`
	NationalID   string     `gorm:"size:64;not null"`
	FirstName    string     `gorm:"size:255;not null"`
	LastName     string     `gorm:"size:255;not null"`
	Sex          string     `gorm:"size:32;not null"`
	DateOfBirth  *time.Time `gorm:"type:date"`
	Indicator    string     `gorm:"size:255;not null"`
	Symptoms     string     `gorm:"type:text"`
	TriageLevel  string     `gorm:"size:16;not null"`
	TriageScore  float64    `gorm:"not null"`
	TriageReason string     `gorm:"type:text"`
	StatusName   string     `gorm:"size:32;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (patientRow) TableName() string { return "patients" }

type vitalRow struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	PatientID    int64 `gorm:"not null;index:idx_vital_signs_patient"`
	HeartRateBPM *float64
	RespRateMin  *float64
	SystolicBP   *float64
	DiastolicBP  *float64
	TempC        *float64
	SpO2Percent  *float64 `gorm:"column:spo2_percent"`
	GCSTotal     *float64 `gorm:"column:gcs_total"`
	PainScore    *float64
	RecordedAt   time.Time `gorm:"not null;index:idx_vital_signs_patient"`
}

func (vitalRow) TableName() string { return "vital_signs" }

type statusLogRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	PatientID  int64     `gorm:"not null;index:idx_status_log_patient"`
	StatusName string    `gorm:"size:32;not null"`
	ChangedAt  time.Time `gorm:"not null;index:idx_status_log_patient"`
}

func (statusLogRow) TableName() string { return "status_log" }

type colorLogRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	PatientID   int64     `gorm:"not null;index:idx_color_log_patient"`
	TriageLevel string    `gorm:"size:16;not null"`
	ChangedAt   time.Time `gorm:"not null;index:idx_color_log_patient"`
}

func (colorLogRow) TableName() string { return "color_log" }

// RepoGorm is the MySQL and SQLite repository.
type RepoGorm struct {
	db *gorm.DB
}

func NewRepoGorm(db *gorm.DB) *RepoGorm { return &RepoGorm{db: db} }

// AutoMigrate creates or updates the schema.
func (r *RepoGorm) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&patientRow{}, &vitalRow{}, &statusLogRow{}, &colorLogRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func toPatientRow(p *Patient) *patientRow {
	return &patientRow{
		ID:           p.ID,
		NationalID:   p.NationalID,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Sex:          p.Sex,
		DateOfBirth:  p.DateOfBirth,
		Indicator:    p.Indicator,
		Symptoms:     p.Symptoms,
		TriageLevel:  string(p.TriageLevel),
		TriageScore:  p.TriageScore,
		TriageReason: p.TriageReason,
		StatusName:   string(p.Status),
	}
}

func (row *patientRow) toPatient() Patient {
	return Patient{
		ID:           row.ID,
		NationalID:   row.NationalID,
		FirstName:    row.FirstName,
		LastName:     row.LastName,
		Sex:          row.Sex,
		DateOfBirth:  row.DateOfBirth,
		Indicator:    row.Indicator,
		Symptoms:     row.Symptoms,
		TriageLevel:  triage.Level(row.TriageLevel),
		TriageScore:  row.TriageScore,
		TriageReason: row.TriageReason,
		Status:       triage.Status(row.StatusName),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func (row *vitalRow) toVitals() *VitalSigns {
	return &VitalSigns{
		ID:           row.ID,
		PatientID:    row.PatientID,
		HeartRateBPM: row.HeartRateBPM,
		RespRateMin:  row.RespRateMin,
		SystolicBP:   row.SystolicBP,
		DiastolicBP:  row.DiastolicBP,
		TempC:        row.TempC,
		SpO2Percent:  row.SpO2Percent,
		GCSTotal:     row.GCSTotal,
		PainScore:    row.PainScore,
		RecordedAt:   row.RecordedAt,
	}
}

func (r *RepoGorm) Create(ctx context.Context, p *Patient, v *VitalSigns) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toPatientRow(p)
		row.ID = 0
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("insert patient: %w", err)
		}
		p.ID, p.CreatedAt, p.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt

		now := time.Now().UTC()
		vrow := &vitalRow{
			PatientID:    p.ID,
			HeartRateBPM: v.HeartRateBPM,
			RespRateMin:  v.RespRateMin,
			SystolicBP:   v.SystolicBP,
			DiastolicBP:  v.DiastolicBP,
			TempC:        v.TempC,
			SpO2Percent:  v.SpO2Percent,
			GCSTotal:     v.GCSTotal,
			PainScore:    v.PainScore,
			RecordedAt:   now,
		}
		if err := tx.Create(vrow).Error; err != nil {
			return fmt.Errorf("insert vital signs: %w", err)
		}
		v.ID, v.PatientID, v.RecordedAt = vrow.ID, p.ID, now

		if err := tx.Create(&statusLogRow{PatientID: p.ID, StatusName: string(p.Status), ChangedAt: now}).Error; err != nil {
			return fmt.Errorf("insert status log: %w", err)
		}
		if err := tx.Create(&colorLogRow{PatientID: p.ID, TriageLevel: string(p.TriageLevel), ChangedAt: now}).Error; err != nil {
			return fmt.Errorf("insert color log: %w", err)
		}
		return nil
	})
}

func (r *RepoGorm) GetByID(ctx context.Context, id int64) (*PatientRecord, error) {
	q := r.db.WithContext(ctx)
	var row patientRow
	if err := q.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get patient %d: %w", id, err)
	}
	rec := &PatientRecord{Patient: row.toPatient()}

	var vitals []vitalRow
	if err := q.Where("patient_id = ?", id).Order("recorded_at DESC, id DESC").Limit(1).Find(&vitals).Error; err != nil {
		return nil, fmt.Errorf("get vital signs for %d: %w", id, err)
	}
	if len(vitals) > 0 {
		rec.Vitals = vitals[0].toVitals()
	}
	return rec, nil
}

func (r *RepoGorm) List(ctx context.Context) ([]*PatientRecord, error) {
	q := r.db.WithContext(ctx)
	var rows []patientRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	var vitals []vitalRow
	if err := q.Order("recorded_at, id").Find(&vitals).Error; err != nil {
		return nil, fmt.Errorf("list vital signs: %w", err)
	}
	latest := make(map[int64]*vitalRow, len(rows))
	for i := range vitals {
		latest[vitals[i].PatientID] = &vitals[i]
	}

	items := make([]*PatientRecord, 0, len(rows))
	for i := range rows {
		rec := &PatientRecord{Patient: rows[i].toPatient()}
		if v, ok := latest[rows[i].ID]; ok {
			rec.Vitals = v.toVitals()
		}
		items = append(items, rec)
	}
	return items, nil
}

func (r *RepoGorm) WithPatient(ctx context.Context, id int64, fn func(ctx context.Context, tx PatientTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		// SQLite has no row locks; its single writer serializes updates.
		if tx.Dialector.Name() != "sqlite" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row patientRow
		if err := q.Select("id", "triage_level", "triage_score", "status_name").First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock patient %d: %w", id, err)
		}
		cur := triage.Current{
			Level:  triage.Level(row.TriageLevel),
			Score:  row.TriageScore,
			Status: triage.Status(row.StatusName),
		}
		return fn(ctx, &patientTxGorm{tx: tx, id: id, cur: cur})
	})
}

type patientTxGorm struct {
	tx  *gorm.DB
	id  int64
	cur triage.Current
}

func (t *patientTxGorm) LoadCurrent(context.Context) (triage.Current, error) {
	return t.cur, nil
}

func (t *patientTxGorm) Save(ctx context.Context, next triage.Transition) error {
	err := t.tx.WithContext(ctx).Model(&patientRow{}).Where("id = ?", t.id).Updates(map[string]interface{}{
		"triage_level": string(next.Level),
		"triage_score": next.Score,
		"status_name":  string(next.Status),
		"updated_at":   time.Now().UTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("update patient %d: %w", t.id, err)
	}
	t.cur = triage.Current{Level: next.Level, Score: next.Score, Status: next.Status}
	return nil
}

func (t *patientTxGorm) AppendStatusLog(ctx context.Context, s triage.Status) error {
	row := &statusLogRow{PatientID: t.id, StatusName: string(s), ChangedAt: time.Now().UTC()}
	if err := t.tx.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}
	return nil
}

func (t *patientTxGorm) AppendColorLog(ctx context.Context, l triage.Level) error {
	row := &colorLogRow{PatientID: t.id, TriageLevel: string(l), ChangedAt: time.Now().UTC()}
	if err := t.tx.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert color log: %w", err)
	}
	return nil
}

func (r *RepoGorm) logScope(ctx context.Context, model interface{}, f LogFilter) (*gorm.DB, int, error) {
	q := r.db.WithContext(ctx).Model(model)
	if f.PatientID != nil {
		q = q.Where("patient_id = ?", *f.PatientID)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	q = q.Order("changed_at DESC, id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	return q, int(total), nil
}

func (r *RepoGorm) ListStatusLogs(ctx context.Context, f LogFilter) ([]*StatusLogEntry, int, error) {
	q, total, err := r.logScope(ctx, &statusLogRow{}, f)
	if err != nil {
		return nil, 0, fmt.Errorf("count status log: %w", err)
	}
	var rows []statusLogRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list status log: %w", err)
	}
	items := make([]*StatusLogEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, &StatusLogEntry{
			ID:        row.ID,
			PatientID: row.PatientID,
			Status:    triage.Status(row.StatusName),
			ChangedAt: row.ChangedAt,
		})
	}
	return items, total, nil
}

func (r *RepoGorm) ListColorLogs(ctx context.Context, f LogFilter) ([]*ColorLogEntry, int, error) {
	q, total, err := r.logScope(ctx, &colorLogRow{}, f)
	if err != nil {
		return nil, 0, fmt.Errorf("count color log: %w", err)
	}
	var rows []colorLogRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list color log: %w", err)
	}
	items := make([]*ColorLogEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, &ColorLogEntry{
			ID:        row.ID,
			PatientID: row.PatientID,
			Level:     triage.Level(row.TriageLevel),
			ChangedAt: row.ChangedAt,
		})
	}
	return items, total, nil
}

func (r *RepoGorm) Clear(ctx context.Context) error {
	q := r.db.WithContext(ctx)
	err := q.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&vitalRow{}, &statusLogRow{}, &colorLogRow{}, &patientRow{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}

	// Sequence resets are DDL on MySQL and cannot share the transaction.
	switch q.Dialector.Name() {
	case "mysql":
		for _, table := range clearTables {
			if err := q.Exec("ALTER TABLE " + table + " AUTO_INCREMENT = 1").Error; err != nil {
				return fmt.Errorf("reset %s sequence: %w", table, err)
			}
		}
	case "sqlite":
		var n int64
		if err := q.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'").Scan(&n).Error; err != nil {
			return fmt.Errorf("check sqlite_sequence: %w", err)
		}
		if n > 0 {
			if err := q.Exec("DELETE FROM sqlite_sequence WHERE name IN ?", clearTables).Error; err != nil {
				return fmt.Errorf("reset sequences: %w", err)
			}
		}
	}
	return nil
}
