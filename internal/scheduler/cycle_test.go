package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"jobmate/applier-service/internal/application"
	"jobmate/applier-service/internal/gateway"
	"jobmate/applier-service/internal/model"
	"jobmate/applier-service/internal/notify"
	"jobmate/applier-service/internal/quota"
	"jobmate/applier-service/internal/scoring"
)

// ─── In-memory fakes ──────────────────────────────────────────────────────────

type fakeProfiles struct {
	users []model.UserProfile
}

func (f *fakeProfiles) ListActive(context.Context) ([]model.UserProfile, error) {
	return f.users, nil
}

func (f *fakeProfiles) Get(_ context.Context, userID string) (*model.UserProfile, error) {
	for i := range f.users {
		if f.users[i].ID == userID {
			return &f.users[i], nil
		}
	}
	return nil, &model.DataIntegrityError{Kind: "profile", ID: userID, Err: errors.New("missing")}
}

type fakeCatalog struct {
	postings []model.JobPosting
}

func (f *fakeCatalog) Ingest(_ context.Context, p model.JobPosting) error {
	f.postings = append(f.postings, p)
	return nil
}

func (f *fakeCatalog) ListFresh(context.Context, time.Time, bool) ([]model.JobPosting, error) {
	return f.postings, nil
}

func (f *fakeCatalog) MarkExpired(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

// appMem implements application.Store on a map. failFor simulates a
// storage-level data problem scoped to one user.
type appMem struct {
	mu      sync.Mutex
	recs    map[string]application.Record
	failFor string
}

func newAppMem() *appMem {
	return &appMem{recs: make(map[string]application.Record)}
}

func (s *appMem) key(userID, fp string) string { return userID + "|" + fp }

func (s *appMem) Get(_ context.Context, userID, fingerprint string) (*application.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.recs[s.key(userID, fingerprint)]; ok {
		out := r
		return &out, nil
	}
	return nil, nil
}

func (s *appMem) Create(_ context.Context, rec *application.Record) (*application.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(rec.UserID, rec.Fingerprint)
	if existing, ok := s.recs[k]; ok {
		out := existing
		return &out, false, nil
	}
	s.recs[k] = *rec
	return rec, true, nil
}

func (s *appMem) Update(_ context.Context, rec *application.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[s.key(rec.UserID, rec.Fingerprint)] = *rec
	return nil
}

func (s *appMem) ListDueRetries(_ context.Context, userID string, now time.Time) ([]application.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID == s.failFor {
		return nil, &model.DataIntegrityError{Kind: "profile", ID: userID, Err: errors.New("corrupt row")}
	}
	var due []application.Record
	for _, r := range s.recs {
		if r.UserID != userID {
			continue
		}
		retryDue := r.State == application.StateFailedRetryable &&
			r.NextAttemptAt != nil && !r.NextAttemptAt.After(now)
		if r.State == application.StateQueued || retryDue {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Payload.Score > due[j].Payload.Score })
	return due, nil
}

func (s *appMem) RecordedFingerprints(_ context.Context, userID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, r := range s.recs {
		if r.UserID == userID {
			out[r.Fingerprint] = true
		}
	}
	return out, nil
}

func (s *appMem) SubmissionCountSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.recs {
		if r.UserID == userID && !r.LastAttemptAt.Before(since) &&
			(r.State == application.StateSubmitting || r.State == application.StateSubmitted) {
			n++
		}
	}
	return n, nil
}

func (s *appMem) get(userID, fp string) (application.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[s.key(userID, fp)]
	return r, ok
}

// scriptedGateway records submissions in call order.
type scriptedGateway struct {
	mu       sync.Mutex
	submitFn func(sub gateway.Submission) (*gateway.Receipt, error)
	calls    []gateway.Submission
}

func (g *scriptedGateway) Submit(_ context.Context, sub gateway.Submission) (*gateway.Receipt, error) {
	g.mu.Lock()
	g.calls = append(g.calls, sub)
	g.mu.Unlock()
	if g.submitFn != nil {
		return g.submitFn(sub)
	}
	return &gateway.Receipt{ExternalRef: "ext-" + sub.Fingerprint, SubmittedAt: time.Now()}, nil
}

func (g *scriptedGateway) submissions() []gateway.Submission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Submission(nil), g.calls...)
}

type nopNotifier struct{}

func (nopNotifier) ApplicationSubmitted(context.Context, notify.SubmittedEvent) {}

type fakeVersions struct{}

func (fakeVersions) Latest(context.Context) (*scoring.ModelVersion, error) {
	return scoring.Bootstrap(), nil
}

func (fakeVersions) Insert(context.Context, *scoring.ModelVersion) error { return nil }

type statsMem struct {
	mu    sync.Mutex
	saved []*model.CycleStats
}

func (s *statsMem) Save(_ context.Context, stats *model.CycleStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, stats)
	return nil
}

// ─── Harness ──────────────────────────────────────────────────────────────────

type harness struct {
	profiles *fakeProfiles
	catalog  *fakeCatalog
	apps     *appMem
	gw       *scriptedGateway
	stats    *statsMem
	lock     *MemoryLock
	runner   *Runner
}

func newHarness(users []model.UserProfile, postings []model.JobPosting, cfg CycleConfig) *harness {
	h := &harness{
		profiles: &fakeProfiles{users: users},
		catalog:  &fakeCatalog{postings: postings},
		apps:     newAppMem(),
		gw:       &scriptedGateway{},
		stats:    &statsMem{},
		lock:     &MemoryLock{},
	}

	executor := application.NewExecutor(h.apps, h.gw, nopNotifier{}, time.Second, zap.NewNop())
	h.runner = NewRunner(
		h.profiles, h.catalog, h.apps, executor,
		fakeVersions{}, quota.NewMemoryCounter(), h.lock, h.stats,
		cfg, zap.NewNop(),
	)
	return h
}

func defaultCfg() CycleConfig {
	return CycleConfig{
		WorkerConcurrency: 4,
		MaxPerCycle:       5,
		MinScore:          0.2,
		PostingTTL:        30 * 24 * time.Hour,
	}
}

func testPosting(fp, title string, skills ...string) model.JobPosting {
	return model.JobPosting{
		Fingerprint:    fp,
		Title:          title,
		Employer:       "Acme",
		PostedAt:       time.Now().Add(-2 * time.Hour),
		RequiredSkills: skills,
	}
}

func testUser(id string, dailyQuota int) model.UserProfile {
	return model.UserProfile{
		ID:         id,
		Status:     model.UserActive,
		Skills:     []string{"go", "sql"},
		DailyQuota: dailyQuota,
	}
}

// ─── Tests ────────────────────────────────────────────────────────────────────

func TestRun_SubmitsTopCandidatesInScoreOrder(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxPerCycle = 2

	h := newHarness(
		[]model.UserProfile{testUser("u1", 5)},
		[]model.JobPosting{
			// full overlap scores above partial overlap; no overlap falls
			// below the threshold entirely.
			testPosting("fp-partial", "B", "go", "python"),
			testPosting("fp-full", "A", "go", "sql"),
			testPosting("fp-none", "C", "python"),
		},
		cfg,
	)

	stats, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}

	subs := h.gw.submissions()
	if len(subs) != 2 {
		t.Fatalf("gateway received %d submissions, want 2 (max-per-cycle)", len(subs))
	}
	if subs[0].Fingerprint != "fp-full" || subs[1].Fingerprint != "fp-partial" {
		t.Errorf("submission order = [%s, %s], want score-descending [fp-full, fp-partial]",
			subs[0].Fingerprint, subs[1].Fingerprint)
	}

	if stats.UsersProcessed != 1 || stats.Submitted != 2 || stats.Scored != 2 {
		t.Errorf("stats = %+v, want 1 user, 2 submitted, 2 scored", stats)
	}
	if stats.ModelVersion != 1 {
		t.Errorf("stats model version = %d, want pinned bootstrap version 1", stats.ModelVersion)
	}
	if len(h.stats.saved) != 1 {
		t.Errorf("cycle stats saved %d times, want 1", len(h.stats.saved))
	}
}

func TestRun_DailyQuotaCapsSubmissions(t *testing.T) {
	h := newHarness(
		[]model.UserProfile{testUser("u1", 2)},
		[]model.JobPosting{
			testPosting("fp-1", "A", "go"),
			testPosting("fp-2", "B", "go"),
			testPosting("fp-3", "C", "go"),
			testPosting("fp-4", "D", "go"),
		},
		defaultCfg(),
	)

	stats, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if stats.Submitted != 2 {
		t.Errorf("submitted = %d, want 2 (daily quota)", stats.Submitted)
	}
	if got := len(h.gw.submissions()); got != 2 {
		t.Errorf("gateway received %d submissions, want 2", got)
	}
}

// One user's storage problem must not disturb the other users in the cycle.
func TestRun_UserFailureIsIsolated(t *testing.T) {
	h := newHarness(
		[]model.UserProfile{testUser("u1", 5), testUser("u-bad", 5), testUser("u3", 5)},
		[]model.JobPosting{testPosting("fp-1", "A", "go")},
		defaultCfg(),
	)
	h.apps.failFor = "u-bad"

	stats, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}

	if stats.UsersProcessed != 3 {
		t.Errorf("users processed = %d, want 3", stats.UsersProcessed)
	}
	if stats.UsersFailed != 1 {
		t.Errorf("users failed = %d, want 1", stats.UsersFailed)
	}

	submittedFor := make(map[string]bool)
	for _, sub := range h.gw.submissions() {
		submittedFor[sub.UserID] = true
	}
	if !submittedFor["u1"] || !submittedFor["u3"] {
		t.Errorf("healthy users should still submit, got %v", submittedFor)
	}
	if submittedFor["u-bad"] {
		t.Error("failed user must not produce submissions")
	}
}

// Re-running a completed cycle produces no additional submissions.
func TestRun_RerunIsIdempotent(t *testing.T) {
	h := newHarness(
		[]model.UserProfile{testUser("u1", 5)},
		[]model.JobPosting{
			testPosting("fp-1", "A", "go"),
			testPosting("fp-2", "B", "go"),
		},
		defaultCfg(),
	)

	first, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run returned unexpected error: %v", err)
	}
	if first.Submitted != 2 {
		t.Fatalf("first run submitted = %d, want 2", first.Submitted)
	}

	second, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run returned unexpected error: %v", err)
	}
	if second.Submitted != 0 {
		t.Errorf("second run submitted = %d, want 0", second.Submitted)
	}
	if got := len(h.gw.submissions()); got != 2 {
		t.Errorf("gateway received %d submissions across both runs, want 2", got)
	}
}

func TestRun_LockContentionAbortsCycle(t *testing.T) {
	h := newHarness(
		[]model.UserProfile{testUser("u1", 5)},
		[]model.JobPosting{testPosting("fp-1", "A", "go")},
		defaultCfg(),
	)

	// Another replica holds the lock.
	h.lock.Acquire(context.Background(), time.Minute)

	_, err := h.runner.Run(context.Background())
	var fatal *model.CycleFatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Run error = %v, want CycleFatalError", err)
	}
	if len(h.gw.submissions()) != 0 {
		t.Error("no submissions should happen while another cycle holds the lock")
	}
	if len(h.stats.saved) != 0 {
		t.Error("no stats row should be written for an aborted cycle")
	}
}

func TestRun_CancelledContextStartsNoWork(t *testing.T) {
	h := newHarness(
		[]model.UserProfile{testUser("u1", 5)},
		[]model.JobPosting{testPosting("fp-1", "A", "go")},
		defaultCfg(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if stats.UsersProcessed != 0 || stats.Submitted != 0 {
		t.Errorf("stats = %+v, want no work after cancellation", stats)
	}
	if len(h.gw.submissions()) != 0 {
		t.Error("no submissions should start after cancellation")
	}
}

// Due retries run before fresh candidates and count into the same quota.
func TestRun_DueRetriesProcessedFirst(t *testing.T) {
	h := newHarness(
		[]model.UserProfile{testUser("u1", 5)},
		[]model.JobPosting{
			testPosting("fp-retry", "A", "go"),
			testPosting("fp-new", "B", "go"),
		},
		defaultCfg(),
	)

	due := time.Now().Add(-time.Hour)
	h.apps.Update(context.Background(), &application.Record{
		ID: "r1", UserID: "u1", Fingerprint: "fp-retry",
		State: application.StateFailedRetryable, AttemptCount: 1,
		NextAttemptAt: &due,
		Payload:       application.ResultPayload{Score: 0.8, ModelVersion: 1},
	})

	stats, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}

	subs := h.gw.submissions()
	if len(subs) != 2 {
		t.Fatalf("gateway received %d submissions, want 2", len(subs))
	}
	if subs[0].Fingerprint != "fp-retry" {
		t.Errorf("first submission = %s, want the due retry fp-retry", subs[0].Fingerprint)
	}
	if stats.Retried != 1 {
		t.Errorf("stats.Retried = %d, want 1", stats.Retried)
	}

	rec, ok := h.apps.get("u1", "fp-retry")
	if !ok || rec.State != application.StateSubmitted {
		t.Errorf("retried record state = %v, want submitted", rec.State)
	}
	if rec.AttemptCount != 2 {
		t.Errorf("retried record AttemptCount = %d, want 2", rec.AttemptCount)
	}
}

// A run interrupted after persisting a record but before submission leaves
// it queued. The next cycle must pick it up and drive it to submission
// rather than letting it sit unfinished forever.
func TestRun_ResumesQueuedRecordFromInterruptedRun(t *testing.T) {
	h := newHarness(
		[]model.UserProfile{testUser("u1", 5)},
		[]model.JobPosting{testPosting("fp-stranded", "A", "go")},
		defaultCfg(),
	)

	h.apps.Update(context.Background(), &application.Record{
		ID: "r1", UserID: "u1", Fingerprint: "fp-stranded",
		State:   application.StateQueued,
		Payload: application.ResultPayload{Score: 0.8, ModelVersion: 1},
	})

	stats, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}

	subs := h.gw.submissions()
	if len(subs) != 1 || subs[0].Fingerprint != "fp-stranded" {
		t.Fatalf("gateway submissions = %v, want exactly the stranded record", subs)
	}
	if stats.Submitted != 1 {
		t.Errorf("stats.Submitted = %d, want 1", stats.Submitted)
	}
	if stats.Retried != 0 {
		t.Errorf("stats.Retried = %d, want 0 (a resumed record is not a retry)", stats.Retried)
	}

	rec, ok := h.apps.get("u1", "fp-stranded")
	if !ok || rec.State != application.StateSubmitted {
		t.Errorf("record state = %v, want submitted", rec.State)
	}
	if rec.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1 (nothing was sent before)", rec.AttemptCount)
	}
}

// A due retry whose posting has aged out of the catalog fails permanently
// instead of dangling forever.
func TestRun_RetryForVanishedPostingGoesPermanent(t *testing.T) {
	h := newHarness(
		[]model.UserProfile{testUser("u1", 5)},
		nil, // catalog is empty
		defaultCfg(),
	)

	due := time.Now().Add(-time.Hour)
	h.apps.Update(context.Background(), &application.Record{
		ID: "r1", UserID: "u1", Fingerprint: "fp-gone",
		State: application.StateFailedRetryable, AttemptCount: 1,
		NextAttemptAt: &due,
		Payload:       application.ResultPayload{Score: 0.8, ModelVersion: 1},
	})

	stats, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if len(h.gw.submissions()) != 0 {
		t.Error("gateway must not be called for a vanished posting")
	}
	if stats.Failures != 1 {
		t.Errorf("stats.Failures = %d, want 1", stats.Failures)
	}

	rec, ok := h.apps.get("u1", "fp-gone")
	if !ok || rec.State != application.StateFailedPermanent {
		t.Errorf("record state = %v, want failed_permanent", rec.State)
	}
}

// Transient gateway failures surface as failures in the stats and leave
// retryable records behind, without failing the user or the cycle.
func TestRun_TransientFailuresLeaveRetryableRecords(t *testing.T) {
	h := newHarness(
		[]model.UserProfile{testUser("u1", 5)},
		[]model.JobPosting{testPosting("fp-1", "A", "go")},
		defaultCfg(),
	)
	h.gw.submitFn = func(gateway.Submission) (*gateway.Receipt, error) {
		return nil, &model.TransientError{Err: errors.New("gateway down")}
	}

	stats, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if stats.UsersFailed != 0 {
		t.Errorf("users failed = %d, want 0 for a gateway outage", stats.UsersFailed)
	}
	if stats.Submitted != 0 || stats.Failures != 1 {
		t.Errorf("stats = %+v, want 0 submitted and 1 failure", stats)
	}

	rec, ok := h.apps.get("u1", "fp-1")
	if !ok || rec.State != application.StateFailedRetryable {
		t.Errorf("record state = %v, want failed_retryable", rec.State)
	}
}

// Expired postings never become fresh candidates.
func TestRun_ExpiredPostingsNotMatched(t *testing.T) {
	expired := testPosting("fp-old", "A", "go")
	expired.Expired = true

	h := newHarness(
		[]model.UserProfile{testUser("u1", 5)},
		[]model.JobPosting{expired, testPosting("fp-live", "B", "go")},
		defaultCfg(),
	)

	stats, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if stats.Scored != 1 {
		t.Errorf("scored = %d, want 1 (expired posting excluded)", stats.Scored)
	}
	for _, sub := range h.gw.submissions() {
		if sub.Fingerprint == "fp-old" {
			t.Error("expired posting must not be applied to")
		}
	}
}
