package emergency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ertriage/ertriage/internal/domain/triage"
	"github.com/ertriage/ertriage/internal/platform/db"
	"github.com/ertriage/ertriage/internal/platform/events"
)

var sqliteSeq atomic.Int64

func newSQLiteRepo(t *testing.T) *RepoGorm {
	t.Helper()
	dsn := fmt.Sprintf("file:emergency%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	gdb, err := db.OpenGorm(db.DriverSQLite, dsn, 1, zerolog.Nop())
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewRepoGorm(gdb)
	require.NoError(t, repo.AutoMigrate(context.Background()))
	return repo
}

func newPatient(first string, level triage.Level, score float64) *Patient {
	return &Patient{
		FirstName:    first,
		LastName:     "Test",
		TriageLevel:  level,
		TriageScore:  score,
		TriageReason: "reason",
		Status:       triage.StatusWaiting,
	}
}

func TestRepoGorm_CreateAndGet(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	dob := time.Date(1980, 5, 1, 0, 0, 0, 0, time.UTC)
	p := newPatient("Ana", triage.LevelRed, 8)
	p.DateOfBirth = &dob
	v := NewVitalSigns(normalVitals())
	require.NoError(t, repo.Create(ctx, p, v))
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, p.ID, v.PatientID)
	assert.NotZero(t, v.ID)

	rec, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", rec.FirstName)
	assert.Equal(t, triage.LevelRed, rec.TriageLevel)
	assert.Equal(t, 8.0, rec.TriageScore)
	assert.Equal(t, triage.StatusWaiting, rec.Status)
	require.NotNil(t, rec.DateOfBirth)
	assert.Equal(t, 1980, rec.DateOfBirth.Year())
	require.NotNil(t, rec.Vitals)
	assert.Equal(t, "120/80", rec.Vitals.BP())
	assert.Nil(t, rec.Vitals.GCSTotal)

	statuses, total, err := repo.ListStatusLogs(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, triage.StatusWaiting, statuses[0].Status)

	colors, total, err := repo.ListColorLogs(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, triage.LevelRed, colors[0].Level)
}

func TestRepoGorm_GetByID_NotFound(t *testing.T) {
	repo := newSQLiteRepo(t)

	_, err := repo.GetByID(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepoGorm_List(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newPatient("Ana", triage.LevelBlue, 0), NewVitalSigns(normalVitals())))
	require.NoError(t, repo.Create(ctx, newPatient("Ben", triage.LevelYellow, 1.8), &VitalSigns{}))

	items, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Ana", items[0].FirstName)
	assert.Equal(t, "Ben", items[1].FirstName)
	require.NotNil(t, items[1].Vitals)
	assert.Equal(t, "", items[1].Vitals.BP())
}

func TestRepoGorm_WithPatient(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	p := newPatient("Cal", triage.LevelRed, 10)
	require.NoError(t, repo.Create(ctx, p, NewVitalSigns(normalVitals())))

	err := repo.WithPatient(ctx, p.ID, func(ctx context.Context, tx PatientTx) error {
		cur, err := tx.LoadCurrent(ctx)
		require.NoError(t, err)
		assert.Equal(t, triage.Current{Level: triage.LevelRed, Score: 10, Status: triage.StatusWaiting}, cur)

		next, err := triage.ApplyStatus(cur, triage.StatusDischarged)
		require.NoError(t, err)
		require.NoError(t, tx.Save(ctx, next))
		require.NoError(t, tx.AppendStatusLog(ctx, next.Status))
		return tx.AppendColorLog(ctx, next.Level)
	})
	require.NoError(t, err)

	rec, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.LevelBlue, rec.TriageLevel)
	assert.Equal(t, 0.0, rec.TriageScore)
	assert.Equal(t, triage.StatusDischarged, rec.Status)

	statuses, total, err := repo.ListStatusLogs(ctx, LogFilter{PatientID: &p.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, triage.StatusDischarged, statuses[0].Status)
}

func TestRepoGorm_WithPatient_RollsBack(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	p := newPatient("Dee", triage.LevelYellow, 2)
	require.NoError(t, repo.Create(ctx, p, NewVitalSigns(normalVitals())))

	boom := fmt.Errorf("boom")
	err := repo.WithPatient(ctx, p.ID, func(ctx context.Context, tx PatientTx) error {
		require.NoError(t, tx.Save(ctx, triage.Transition{Level: triage.LevelBlue, Status: triage.StatusTransferred}))
		require.NoError(t, tx.AppendStatusLog(ctx, triage.StatusTransferred))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.StatusWaiting, rec.Status)
	assert.Equal(t, triage.LevelYellow, rec.TriageLevel)

	_, total, err := repo.ListStatusLogs(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRepoGorm_WithPatient_NotFound(t *testing.T) {
	repo := newSQLiteRepo(t)

	called := false
	err := repo.WithPatient(context.Background(), 3, func(context.Context, PatientTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)
}

func TestRepoGorm_LogPaging(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	for _, name := range []string{"Eve", "Fay", "Gus"} {
		require.NoError(t, repo.Create(ctx, newPatient(name, triage.LevelBlue, 0), NewVitalSigns(normalVitals())))
	}

	page, total, err := repo.ListColorLogs(ctx, LogFilter{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].PatientID, "newest first")

	page, _, err = repo.ListColorLogs(ctx, LogFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(1), page[0].PatientID)
}

func TestRepoGorm_Clear(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newPatient("Hal", triage.LevelBlue, 0), NewVitalSigns(normalVitals())))
	require.NoError(t, repo.Create(ctx, newPatient("Ivy", triage.LevelBlue, 0), NewVitalSigns(normalVitals())))

	require.NoError(t, repo.Clear(ctx))

	items, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, total, err := repo.ListStatusLogs(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	p := newPatient("Jo", triage.LevelBlue, 0)
	require.NoError(t, repo.Create(ctx, p, NewVitalSigns(normalVitals())))
	assert.Equal(t, int64(1), p.ID, "ids restart at 1")
}

func TestRepoGorm_ClearEmpty(t *testing.T) {
	repo := newSQLiteRepo(t)
	assert.NoError(t, repo.Clear(context.Background()))
}

func TestRepoGorm_ServiceRoundTrip(t *testing.T) {
	repo := newSQLiteRepo(t)
	scorer, err := triage.NewScorer(triage.PolicyRuleBased, triage.DefaultRules())
	require.NoError(t, err)
	svc := NewService(repo, scorer)
	ctx := context.Background()

	red := normalVitals()
	red.SpO2Percent = triage.Num(87)
	_, err = svc.Admit(ctx, admission("Kim", "Vo", normalVitals()))
	require.NoError(t, err)
	_, err = svc.Admit(ctx, admission("Lee", "Wu", red))
	require.NoError(t, err)

	upd, err := svc.UpdateStatus(ctx, 2, "Transferred")
	require.NoError(t, err)
	assert.Equal(t, triage.LevelBlue, upd.Level)

	page, err := svc.ListPatients(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Patients, 2)
	// Both BLUE with score 0 now; the stable sort keeps id order.
	assert.Equal(t, int64(1), page.Patients[0].PatientID)
	assert.Equal(t, Summary{Total: 2, Minor: 2}, page.Summary)
}

func TestRepoGorm_ConcurrentStatusUpdatesAreSerialized(t *testing.T) {
	repo := newSQLiteRepo(t)
	scorer, err := triage.NewScorer(triage.PolicyRuleBased, triage.DefaultRules())
	require.NoError(t, err)
	svc := NewService(repo, scorer)
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)
	ctx := context.Background()

	red := normalVitals()
	red.SpO2Percent = triage.Num(87)
	res, err := svc.Admit(ctx, admission("Ada", "Ng", red))
	require.NoError(t, err)
	id := res.PatientID

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			upd, err := svc.UpdateStatus(ctx, id, "Under Treatment")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if upd.Changed {
				changed++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, changed, "exactly one update should see Waiting")

	statuses, total, err := repo.ListStatusLogs(ctx, LogFilter{PatientID: &id})
	require.NoError(t, err)
	assert.Equal(t, 2, total, "admission Waiting plus one Under Treatment")
	require.Len(t, statuses, 2)
	assert.Equal(t, triage.StatusUnderTreatment, statuses[0].Status)
	assert.Equal(t, triage.StatusWaiting, statuses[1].Status)

	_, colors, err := repo.ListColorLogs(ctx, LogFilter{PatientID: &id})
	require.NoError(t, err)
	assert.Equal(t, 1, colors, "level is unchanged under treatment")

	rec, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, triage.StatusUnderTreatment, rec.Status)
	assert.Equal(t, triage.LevelRed, rec.TriageLevel)
	assert.Zero(t, rec.TriageScore)

	var statusEvents int
	for _, k := range pub.kinds() {
		if k == events.KindStatusChanged {
			statusEvents++
		}
	}
	assert.Equal(t, 1, statusEvents)
}
