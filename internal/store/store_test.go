package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/secfuse/secfuse/internal/dedup"
	"github.com/secfuse/secfuse/internal/identity"
	"github.com/secfuse/secfuse/internal/models"
)

// getTestDSN returns the test database DSN from environment
func getTestDSN() string {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=secfuse password=secfuse_password dbname=secfuse_test sslmode=disable"
	}
	return dsn
}

// skipIfNoTestDB skips the test if no test database is available
func skipIfNoTestDB(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{
		DSN:          getTestDSN(),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}, nil, dedup.DefaultPolicy())
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Skipf("Skipping test, database not reachable: %v", err)
		return nil
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	return store
}

func testFinding(t *testing.T, product string, class models.SourceClass, observedAt time.Time) models.Finding {
	t.Helper()

	resourceKey := "arn:aws:ecr:us-east-1:123456789012:repository/api/" + uuid.New().String()
	checkID := "CVE-2024-1234"

	return models.Finding{
		Identity:          identity.Compute(resourceKey, checkID),
		ResourceKey:       resourceKey,
		SourceID:          uuid.New().String(),
		SourceProduct:     product,
		SourceClass:       class,
		CheckID:           checkID,
		Title:             "openssl vulnerable to CVE-2024-1234",
		Description:       "container image carries a vulnerable openssl build",
		Resource:          models.Resource{Type: "container-image", ARN: resourceKey, Region: "us-east-1", AccountID: "123456789012"},
		Severity:          models.SeverityHigh,
		RawSeverity:       "HIGH",
		WorkflowState:     models.WorkflowNew,
		VerificationState: models.VerificationUnknown,
		Authoritative:     true,
		FirstObservedAt:   observedAt,
		LastObservedAt:    observedAt,
	}
}

func TestStore_ApplyAndGet(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	f := testFinding(t, "trivy", models.ClassBuildTime, now)

	res, err := store.Apply(ctx, f)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.IsNew {
		t.Error("expected first observation to create")
	}
	if res.Outcome != dedup.OutcomeCreated {
		t.Errorf("outcome = %s, want %s", res.Outcome, dedup.OutcomeCreated)
	}

	got, err := store.Get(ctx, f.Identity)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.WorkflowState != models.WorkflowNew {
		t.Errorf("workflow = %s, want NEW", got.WorkflowState)
	}
	if got.Resource.ARN != f.Resource.ARN {
		t.Errorf("resource ARN = %s, want %s", got.Resource.ARN, f.Resource.ARN)
	}

	// Second observation of the same identity updates in place.
	later := f
	later.SourceID = uuid.New().String()
	later.LastObservedAt = now.Add(time.Hour)
	res2, err := store.Apply(ctx, later)
	if err != nil {
		t.Fatalf("Apply second observation: %v", err)
	}
	if res2.IsNew {
		t.Error("second observation must not create a new record")
	}
	if !res2.Finding.FirstObservedAt.Equal(got.FirstObservedAt) {
		t.Error("firstObservedAt must not move on repeat observation")
	}
	if !res2.Finding.LastObservedAt.After(got.LastObservedAt) {
		t.Error("lastObservedAt must advance")
	}

	if _, err := store.Get(ctx, "no-such-identity"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown identity: got %v, want ErrNotFound", err)
	}
}

func TestStore_ApplyConcurrentSameIdentity(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	base := testFinding(t, "trivy", models.ClassBuildTime, now)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := base
			f.SourceID = fmt.Sprintf("obs-%d", i)
			f.LastObservedAt = now.Add(time.Duration(i) * time.Second)
			if _, err := store.Apply(ctx, f); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Apply: %v", err)
	}

	// The advisory lock serializes the workers; exactly one record exists and
	// its lastObservedAt reflects the latest observation.
	got, err := store.Get(ctx, base.Identity)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := now.Add(time.Duration(workers-1) * time.Second)
	if got.LastObservedAt.Unix() != want.Unix() {
		t.Errorf("lastObservedAt = %v, want %v", got.LastObservedAt, want)
	}
}

func TestStore_TransitionAndReopen(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	f := testFinding(t, "inspector", models.ClassRuntime, now)

	if _, err := store.Apply(ctx, f); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if _, err := store.Transition(ctx, f.Identity, models.WorkflowNotified, "alice", "paged on-call"); err != nil {
		t.Fatalf("Transition to NOTIFIED: %v", err)
	}
	if _, err := store.Transition(ctx, f.Identity, models.WorkflowResolved, "alice", "patched"); err != nil {
		t.Fatalf("Transition to RESOLVED: %v", err)
	}

	// Backward transitions are rejected.
	if _, err := store.Transition(ctx, f.Identity, models.WorkflowSuppressed, "alice", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("backward transition: got %v, want ErrInvalidTransition", err)
	}

	// A fresh observation of a resolved identity reopens it.
	reobs := f
	reobs.SourceID = uuid.New().String()
	reobs.LastObservedAt = now.Add(2 * time.Hour)
	res, err := store.Apply(ctx, reobs)
	if err != nil {
		t.Fatalf("Apply reobservation: %v", err)
	}
	if res.Outcome != dedup.OutcomeReopened {
		t.Errorf("outcome = %s, want %s", res.Outcome, dedup.OutcomeReopened)
	}
	if res.Finding.WorkflowState != models.WorkflowNew {
		t.Errorf("workflow = %s, want NEW after reopen", res.Finding.WorkflowState)
	}

	events, err := store.ListLifecycle(ctx, f.Identity)
	if err != nil {
		t.Fatalf("ListLifecycle: %v", err)
	}
	var sawReopen bool
	for _, ev := range events {
		if ev.EventType == models.EventFindingReopened {
			sawReopen = true
			if ev.Actor != models.IngestionActor {
				t.Errorf("reopen actor = %q, want %q", ev.Actor, models.IngestionActor)
			}
		}
	}
	if !sawReopen {
		t.Error("expected finding.reopened lifecycle event")
	}
}

func TestStore_QueryCursor(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	product := "cursor-test-" + uuid.New().String()[:8]

	for i := 0; i < 5; i++ {
		f := testFinding(t, product, models.ClassBuildTime, now.Add(time.Duration(i)*time.Minute))
		if _, err := store.Apply(ctx, f); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	var seen []string
	cursor := ""
	for {
		page, err := store.Query(ctx, Filter{SourceProduct: product, Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		for _, f := range page.Findings {
			seen = append(seen, f.Identity)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != 5 {
		t.Fatalf("paged through %d findings, want 5", len(seen))
	}
	uniq := make(map[string]bool, len(seen))
	for _, id := range seen {
		if uniq[id] {
			t.Fatalf("identity %s appeared on two pages", id)
		}
		uniq[id] = true
	}
}

func TestStore_ArchiveResolved(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	f := testFinding(t, "archive-test", models.ClassBuildTime, time.Now().UTC().Add(-100*24*time.Hour))

	if _, err := store.Apply(ctx, f); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := store.Transition(ctx, f.Identity, models.WorkflowResolved, "bob", ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	// Backdate so the retention cutoff catches it.
	if _, err := store.db.ExecContext(ctx, `UPDATE findings SET updated_at = $1 WHERE identity = $2`,
		time.Now().UTC().Add(-91*24*time.Hour), f.Identity); err != nil {
		t.Fatalf("backdating: %v", err)
	}

	n, err := store.ArchiveResolved(ctx, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("ArchiveResolved: %v", err)
	}
	if n < 1 {
		t.Fatalf("archived %d findings, want >= 1", n)
	}

	page, err := store.Query(ctx, Filter{SourceProduct: "archive-test"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, got := range page.Findings {
		if got.Identity == f.Identity {
			t.Error("archived finding still visible without IncludeArchived")
		}
	}

	page, err = store.Query(ctx, Filter{SourceProduct: "archive-test", IncludeArchived: true})
	if err != nil {
		t.Fatalf("Query with archived: %v", err)
	}
	var found bool
	for _, got := range page.Findings {
		if got.Identity == f.Identity && got.Archived {
			found = true
		}
	}
	if !found {
		t.Error("archived finding not returned with IncludeArchived")
	}
}
