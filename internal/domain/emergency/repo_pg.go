package emergency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ertriage/ertriage/internal/domain/triage"
	"github.com/ertriage/ertriage/internal/platform/db"
	"github.com/ertriage/ertriage/pkg/pagination"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a PostgreSQL repository over the migrated schema.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `p.id, p.national_id, p.first_name, p.last_name, p.sex, p.date_of_birth,
	p.indicator, p.symptoms, p.triage_level, p.triage_score, p.triage_reason,
	p.status_name, p.created_at, p.updated_at`

const latestVitalsCols = `v.id, v.heart_rate_bpm, v.resp_rate_min, v.systolic_bp, v.diastolic_bp,
	v.temp_c, v.spo2_percent, v.gcs_total, v.pain_score, v.recorded_at`

const recordQuery = `SELECT ` + patientCols + `, ` + latestVitalsCols + `
	FROM patients p
	LEFT JOIN LATERAL (
		SELECT * FROM vital_signs
		WHERE patient_id = p.id
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	) v ON TRUE`

func scanRecord(row pgx.Row) (*PatientRecord, error) {
	var (
		rec        PatientRecord
		level      string
		status     string
		vitalsID   *int64
		vs         VitalSigns
		recordedAt *time.Time
	)
	err := row.Scan(&rec.ID, &rec.NationalID, &rec.FirstName, &rec.LastName, &rec.Sex, &rec.DateOfBirth,
		&rec.Indicator, &rec.Symptoms, &level, &rec.TriageScore, &rec.TriageReason,
		&status, &rec.CreatedAt, &rec.UpdatedAt,
		&vitalsID, &vs.HeartRateBPM, &vs.RespRateMin, &vs.SystolicBP, &vs.DiastolicBP,
		&vs.TempC, &vs.SpO2Percent, &vs.GCSTotal, &vs.PainScore, &recordedAt)
	if err != nil {
		return nil, err
	}
	rec.TriageLevel = triage.Level(level)
	rec.Status = triage.Status(status)
	if vitalsID != nil {
		vs.ID = *vitalsID
		vs.PatientID = rec.ID
		if recordedAt != nil {
			vs.RecordedAt = *recordedAt
		}
		rec.Vitals = &vs
	}
	return &rec, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient, v *VitalSigns) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		err := q.QueryRow(ctx, `
			INSERT INTO patients (national_id, first_name, last_name, sex, date_of_birth,
				indicator, symptoms, triage_level, triage_score, triage_reason, status_name)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			RETURNING id, created_at, updated_at`,
			p.NationalID, p.FirstName, p.LastName, p.Sex, p.DateOfBirth,
			p.Indicator, p.Symptoms, string(p.TriageLevel), p.TriageScore, p.TriageReason, string(p.Status),
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert patient: %w", err)
		}

		v.PatientID = p.ID
		err = q.QueryRow(ctx, `
			INSERT INTO vital_signs (patient_id, heart_rate_bpm, resp_rate_min, systolic_bp, diastolic_bp,
				temp_c, spo2_percent, gcs_total, pain_score)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id, recorded_at`,
			v.PatientID, v.HeartRateBPM, v.RespRateMin, v.SystolicBP, v.DiastolicBP,
			v.TempC, v.SpO2Percent, v.GCSTotal, v.PainScore,
		).Scan(&v.ID, &v.RecordedAt)
		if err != nil {
			return fmt.Errorf("insert vital signs: %w", err)
		}

		if _, err := q.Exec(ctx, `INSERT INTO status_log (patient_id, status_name) VALUES ($1, $2)`,
			p.ID, string(p.Status)); err != nil {
			return fmt.Errorf("insert status log: %w", err)
		}
		if _, err := q.Exec(ctx, `INSERT INTO color_log (patient_id, triage_level) VALUES ($1, $2)`,
			p.ID, string(p.TriageLevel)); err != nil {
			return fmt.Errorf("insert color log: %w", err)
		}
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*PatientRecord, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, recordQuery+` WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %d: %w", id, err)
	}
	return rec, nil
}

func (r *repoPG) List(ctx context.Context) ([]*PatientRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, recordQuery+` ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	var items []*PatientRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *repoPG) WithPatient(ctx context.Context, id int64, fn func(ctx context.Context, tx PatientTx) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		var level, status string
		var cur triage.Current
		err := q.QueryRow(ctx,
			`SELECT triage_level, triage_score, status_name FROM patients WHERE id = $1 FOR UPDATE`, id,
		).Scan(&level, &cur.Score, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock patient %d: %w", id, err)
		}
		cur.Level = triage.Level(level)
		cur.Status = triage.Status(status)
		return fn(ctx, &patientTxPG{q: q, id: id, cur: cur})
	})
}

type patientTxPG struct {
	q   db.Querier
	id  int64
	cur triage.Current
}

func (t *patientTxPG) LoadCurrent(context.Context) (triage.Current, error) {
	return t.cur, nil
}

func (t *patientTxPG) Save(ctx context.Context, next triage.Transition) error {
	_, err := t.q.Exec(ctx, `
		UPDATE patients SET triage_level=$2, triage_score=$3, status_name=$4, updated_at=NOW()
		WHERE id = $1`,
		t.id, string(next.Level), next.Score, string(next.Status))
	if err != nil {
		return fmt.Errorf("update patient %d: %w", t.id, err)
	}
	t.cur = triage.Current{Level: next.Level, Score: next.Score, Status: next.Status}
	return nil
}

func (t *patientTxPG) AppendStatusLog(ctx context.Context, s triage.Status) error {
	_, err := t.q.Exec(ctx, `INSERT INTO status_log (patient_id, status_name) VALUES ($1, $2)`, t.id, string(s))
	if err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}
	return nil
}

func (t *patientTxPG) AppendColorLog(ctx context.Context, l triage.Level) error {
	_, err := t.q.Exec(ctx, `INSERT INTO color_log (patient_id, triage_level) VALUES ($1, $2)`, t.id, string(l))
	if err != nil {
		return fmt.Errorf("insert color log: %w", err)
	}
	return nil
}

// logQuery builds the filtered select and count statements for a log table.
func logQuery(table, valueCol string, f LogFilter) (string, string, []interface{}) {
	where := ""
	var args []interface{}
	if f.PatientID != nil {
		where = ` WHERE patient_id = $1`
		args = append(args, *f.PatientID)
	}
	query := `SELECT id, patient_id, ` + valueCol + `, changed_at FROM ` + table + where +
		` ORDER BY changed_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` ` + pagination.Params{Limit: f.Limit, Offset: f.Offset}.SQL()
	}
	return query, `SELECT COUNT(*) FROM ` + table + where, args
}

func (r *repoPG) ListStatusLogs(ctx context.Context, f LogFilter) ([]*StatusLogEntry, int, error) {
	query, countQuery, args := logQuery("status_log", "status_name", f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count status log: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list status log: %w", err)
	}
	defer rows.Close()
	var items []*StatusLogEntry
	for rows.Next() {
		var e StatusLogEntry
		var status string
		if err := rows.Scan(&e.ID, &e.PatientID, &status, &e.ChangedAt); err != nil {
			return nil, 0, fmt.Errorf("scan status log: %w", err)
		}
		e.Status = triage.Status(status)
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListColorLogs(ctx context.Context, f LogFilter) ([]*ColorLogEntry, int, error) {
	query, countQuery, args := logQuery("color_log", "triage_level", f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count color log: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list color log: %w", err)
	}
	defer rows.Close()
	var items []*ColorLogEntry
	for rows.Next() {
		var e ColorLogEntry
		var level string
		if err := rows.Scan(&e.ID, &e.PatientID, &level, &e.ChangedAt); err != nil {
			return nil, 0, fmt.Errorf("scan color log: %w", err)
		}
		e.Level = triage.Level(level)
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

var clearTables = []string{"vital_signs", "status_log", "color_log", "patients"}

func (r *repoPG) Clear(ctx context.Context) error {
	_, err := r.conn(ctx).Exec(ctx, `TRUNCATE `+strings.Join(clearTables, ", ")+` RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}
	return nil
}
