package emergency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ertriage/ertriage/internal/domain/triage"
	"github.com/ertriage/ertriage/internal/platform/events"
	"github.com/ertriage/ertriage/internal/platform/metrics"
	"github.com/ertriage/ertriage/internal/platform/middleware"
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError is a client error whose message is safe to return as is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DefaultAge is used when no date of birth is given.
const DefaultAge = 30

// DefaultListCacheTTL is how long a ranked dashboard list is reused.
const DefaultListCacheTTL = 2 * time.Second

const listCacheKey = "ranked"

// listLoadTimeout bounds a shared dashboard load, which no longer follows the
// cancellation of the request that started it.
const listLoadTimeout = 10 * time.Second

// ward is the cached, ranked dashboard. Views are shared read-only.
type ward struct {
	views   []PatientView
	summary Summary
}

type Service struct {
	repo   Repository
	scorer triage.Scorer
	policy triage.StatusPolicy
	pub    events.Publisher
	log    zerolog.Logger
	now    func() time.Time

	cache *cache.Cache
	group singleflight.Group
	// cacheMu orders cache stores against invalidation; gen counts mutations.
	cacheMu sync.Mutex
	gen     atomic.Uint64
}

// NewService uses the permissive status policy, no event publisher and the
// default list cache TTL until configured otherwise.
func NewService(repo Repository, scorer triage.Scorer) *Service {
	return &Service{
		repo:   repo,
		scorer: scorer,
		pub:    events.Discard,
		log:    zerolog.Nop(),
		now:    time.Now,
		cache:  cache.New(DefaultListCacheTTL, 2*DefaultListCacheTTL),
	}
}

// SetStatusPolicy replaces the status transition policy.
func (s *Service) SetStatusPolicy(p triage.StatusPolicy) { s.policy = p }

// SetPublisher attaches the event publisher.
func (s *Service) SetPublisher(p events.Publisher) { s.pub = p }

// SetLogger attaches a logger.
func (s *Service) SetLogger(log zerolog.Logger) {
	s.log = log.With().Str("component", "emergency").Logger()
}

// SetListCacheTTL changes how long the ranked list is cached. A
// non-positive ttl disables caching.
func (s *Service) SetListCacheTTL(ttl time.Duration) {
	if ttl <= 0 {
		s.cache = nil
		return
	}
	s.cache = cache.New(ttl, 2*ttl)
}

// Scorer returns the configured scorer.
func (s *Service) Scorer() triage.Scorer { return s.scorer }

// ageFrom derives an age in whole calendar years from a date of birth.
func ageFrom(dob *time.Time, now time.Time) int {
	if dob == nil {
		return DefaultAge
	}
	return now.Year() - dob.Year()
}

// parseDateOfBirth accepts YYYY-MM-DD or RFC 3339. Empty means unknown.
func parseDateOfBirth(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d, nil
		}
	}
	return nil, &ValidationError{Msg: "Invalid date_of_birth"}
}

// Admit classifies and stores a new patient.
func (s *Service) Admit(ctx context.Context, req AdmissionRequest) (*AdmissionResult, error) {
	first := middleware.SanitizeString(req.FirstName)
	last := middleware.SanitizeString(req.LastName)
	if first == "" || last == "" {
		return nil, &ValidationError{Msg: "Missing patient name"}
	}
	dob, err := parseDateOfBirth(req.DateOfBirth)
	if err != nil {
		return nil, err
	}

	p := &Patient{
		NationalID:  middleware.SanitizeString(req.NationalID),
		FirstName:   first,
		LastName:    last,
		Sex:         middleware.SanitizeString(req.Sex),
		DateOfBirth: dob,
		Indicator:   middleware.SanitizeString(req.Indicator),
		Symptoms:    middleware.SanitizeString(req.Symptoms),
		Status:      triage.StatusWaiting,
	}
	res := s.scorer.Classify(req.Vital.Snapshot(), triage.Presentation{
		Symptoms:  p.Symptoms,
		Age:       ageFrom(dob, s.now()),
		Sex:       p.Sex,
		Indicator: p.Indicator,
	})
	p.TriageLevel = res.Level
	p.TriageScore = res.Score
	p.TriageReason = strings.Join(res.Reasons, "; ")

	if err := s.repo.Create(ctx, p, NewVitalSigns(req.Vital)); err != nil {
		return nil, fmt.Errorf("admit patient: %w", err)
	}
	s.invalidate()

	e := events.New(events.KindTriageClassified, p.ID)
	e.Level = string(res.Level)
	e.Score = res.Score
	e.Status = string(p.Status)
	e.Reasons = res.Reasons
	e.Policy = string(s.scorer.Policy())
	s.pub.Publish(e)

	s.log.Info().
		Int64("patient_id", p.ID).
		Str("level", string(res.Level)).
		Float64("score", res.Score).
		Msg("patient admitted")

	return &AdmissionResult{
		Message:   "Patient added successfully",
		PatientID: p.ID,
		Triage:    res.Level,
		Score:     res.Score,
		Reasoning: res.Reasons,
	}, nil
}

// Preview classifies without storing anything.
func (s *Service) Preview(req ClassifyRequest) (*ClassifyResult, error) {
	var age int
	if req.Age != nil {
		age = *req.Age
	} else {
		dob, err := parseDateOfBirth(req.DateOfBirth)
		if err != nil {
			return nil, err
		}
		age = ageFrom(dob, s.now())
	}
	res := s.scorer.Classify(req.Vital.Snapshot(), triage.Presentation{
		Symptoms:  req.Symptoms,
		Age:       age,
		Sex:       req.Sex,
		Indicator: req.Indicator,
	})
	return &ClassifyResult{
		Policy:    s.scorer.Policy(),
		Triage:    res.Level,
		Score:     res.Score,
		Reasoning: res.Reasons,
	}, nil
}

// UpdateStatus moves a patient to a new status, relabelling level and score
// per the status policy. Audit log entries are written only for fields that
// actually changed.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status string) (*StatusUpdate, error) {
	target, err := triage.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	var cur triage.Current
	var next triage.Transition
	err = s.repo.WithPatient(ctx, id, func(ctx context.Context, tx PatientTx) error {
		var err error
		if cur, err = tx.LoadCurrent(ctx); err != nil {
			return err
		}
		if next, err = s.policy.Apply(cur, target); err != nil {
			return err
		}
		if next.Level == cur.Level && next.Score == cur.Score && next.Status == cur.Status {
			return nil
		}
		if err := tx.Save(ctx, next); err != nil {
			return err
		}
		if next.LogStatus {
			if err := tx.AppendStatusLog(ctx, next.Status); err != nil {
				return err
			}
		}
		if next.LogColor {
			if err := tx.AppendColorLog(ctx, next.Level); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	changed := next.Level != cur.Level || next.Score != cur.Score || next.Status != cur.Status
	if changed {
		s.invalidate()
	}
	if next.LogStatus {
		e := events.New(events.KindStatusChanged, id)
		e.Status, e.PreviousStatus = string(next.Status), string(cur.Status)
		e.Level, e.Score = string(next.Level), next.Score
		s.pub.Publish(e)
	}
	if next.LogColor {
		e := events.New(events.KindLevelChanged, id)
		e.Level, e.PreviousLevel = string(next.Level), string(cur.Level)
		e.Status, e.Score = string(next.Status), next.Score
		s.pub.Publish(e)
	}

	return &StatusUpdate{
		PatientID:      id,
		Status:         next.Status,
		PreviousStatus: cur.Status,
		Level:          next.Level,
		PreviousLevel:  cur.Level,
		Score:          next.Score,
		Changed:        changed,
	}, nil
}

// GetPatient returns one patient with its latest vitals.
func (s *Service) GetPatient(ctx context.Context, id int64) (*PatientView, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v := NewPatientView(rec)
	return &v, nil
}

// ListPatients returns the ranked dashboard, filtered by q.Search and paged.
func (s *Service) ListPatients(ctx context.Context, q ListQuery) (*PatientPage, error) {
	w, err := s.rankedWard(ctx)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := w.views
	if search != "" {
		matched = make([]PatientView, 0, len(w.views))
		for i := range w.views {
			if w.views[i].matches(search) {
				matched = append(matched, w.views[i])
			}
		}
	}

	page := &PatientPage{Total: len(matched), Summary: w.summary}
	start := min(max(q.Offset, 0), len(matched))
	end := len(matched)
	if q.Limit > 0 {
		end = min(start+q.Limit, end)
	}
	page.Patients = make([]PatientView, 0, end-start)
	page.Patients = append(page.Patients, matched[start:end]...)
	return page, nil
}

// rankedWard loads and ranks every patient, reusing a cached copy when one
// is fresh. Concurrent misses share a single load.
func (s *Service) rankedWard(ctx context.Context) (*ward, error) {
	c := s.cache
	if c != nil {
		if v, ok := c.Get(listCacheKey); ok {
			metrics.RecordListCache(true)
			return v.(*ward), nil
		}
		metrics.RecordListCache(false)
	}

	gen := s.gen.Load()
	v, err, _ := s.group.Do(listCacheKey+":"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		// Coalesced callers share this load, so one caller going away must
		// not fail the others.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listLoadTimeout)
		defer cancel()
		recs, err := s.repo.List(loadCtx)
		if err != nil {
			return nil, fmt.Errorf("list patients: %w", err)
		}
		w := &ward{views: make([]PatientView, 0, len(recs))}
		for _, rec := range recs {
			w.views = append(w.views, NewPatientView(rec))
			w.summary.Add(rec.TriageLevel, rec.Status)
		}
		triage.SortByPriority(w.views, func(v PatientView) (triage.Level, float64) {
			return v.TriageLevel, v.TriageScore
		})
		for i := range w.views {
			w.views[i].Priority = i + 1
		}
		s.storeWard(gen, w)
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ward), nil
}

// storeWard caches w unless a mutation happened after generation gen was
// read, in which case w is already stale.
func (s *Service) storeWard(gen uint64, w *ward) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cache != nil && s.gen.Load() == gen {
		s.cache.SetDefault(listCacheKey, w)
	}
}

func (s *Service) invalidate() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen.Add(1)
	if s.cache != nil {
		s.cache.Delete(listCacheKey)
	}
}

// StatusLogs lists status log entries, newest first.
func (s *Service) StatusLogs(ctx context.Context, f LogFilter) ([]*StatusLogEntry, int, error) {
	return s.repo.ListStatusLogs(ctx, f)
}

// ColorLogs lists color log entries, newest first.
func (s *Service) ColorLogs(ctx context.Context, f LogFilter) ([]*ColorLogEntry, int, error) {
	return s.repo.ListColorLogs(ctx, f)
}

// Clear removes every patient and log entry.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.repo.Clear(ctx); err != nil {
		return err
	}
	s.invalidate()
	s.log.Warn().Msg("all patient data cleared")
	return nil
}
