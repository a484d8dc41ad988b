package engine_test

import (
	"context"
	"testing"
	"time"

	"appraise/internal/config"
	"appraise/internal/db"
	"appraise/internal/domain"
	"appraise/internal/engine"
	"appraise/internal/migrate"
	"appraise/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Now    *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test")
	eng := engine.New(conn, cfg)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := testEnv{Engine: eng, Ctx: context.Background(), Now: &now}
	env.Engine.Now = func() time.Time { return *env.Now }
	return env
}

func (env testEnv) advance(d time.Duration) {
	*env.Now = env.Now.Add(d)
}

func (env testEnv) user(t *testing.T, name string) domain.User {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, name, name+"@example.com")
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (env testEnv) jobAssignment(t *testing.T, userID string, managerJAID, appraiserID *string) domain.JobAssignment {
	t.Helper()
	ja, err := env.Engine.CreateJobAssignment(env.Ctx, domain.JobAssignment{
		UserID:      userID,
		ManagerJAID: managerJAID,
		AppraiserID: appraiserID,
	})
	if err != nil {
		t.Fatalf("create job assignment: %v", err)
	}
	return ja
}

func (env testEnv) activity(t *testing.T, name string, rels ...domain.ActivityRelationship) domain.Activity {
	t.Helper()
	a, err := env.Engine.CreateActivity(env.Ctx, name, rels)
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	a, err = env.Engine.ActivateActivity(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("activate activity: %v", err)
	}
	return a
}

func rel(relationship string) domain.ActivityRelationship {
	return domain.ActivityRelationship{Relationship: relationship}
}

func viewOnly(relationship string) domain.ActivityRelationship {
	return domain.ActivityRelationship{Relationship: relationship, ViewOnly: true}
}

func (env testEnv) track(t *testing.T, activityID string, mutate func(*domain.Track)) domain.Track {
	t.Helper()
	tr := domain.Track{ActivityID: activityID}
	if mutate != nil {
		mutate(&tr)
	}
	tr, err := env.Engine.CreateTrack(env.Ctx, tr)
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	return tr
}

func (env testEnv) assign(t *testing.T, trackID, userID string, jaID *string) domain.TrackUserAssignment {
	t.Helper()
	a, err := env.Engine.AssignUser(env.Ctx, trackID, userID, jaID, nil, nil)
	if err != nil {
		t.Fatalf("assign user: %v", err)
	}
	return a
}

func (env testEnv) generate(t *testing.T) engine.GenerationResult {
	t.Helper()
	res, err := env.Engine.GenerateInstances(env.Ctx)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return res
}

func (env testEnv) instances(t *testing.T, f repo.SubjectInstanceFilters) []domain.SubjectInstance {
	t.Helper()
	out, err := env.Engine.Repo.ListSubjectInstances(env.Ctx, f)
	if err != nil {
		t.Fatalf("list subject instances: %v", err)
	}
	return out
}

func (env testEnv) participants(t *testing.T, subjectInstanceID int64) []domain.ParticipantInstance {
	t.Helper()
	out, err := env.Engine.Repo.ListParticipants(env.Ctx, subjectInstanceID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	return out
}

func countByRelationship(ps []domain.ParticipantInstance) map[string]int {
	out := map[string]int{}
	for _, p := range ps {
		out[p.Relationship]++
	}
	return out
}

// managedPair seeds alice reporting to bob and returns their respective job
// assignments.
func (env testEnv) managedPair(t *testing.T) (alice, bob domain.User, aliceJA, bobJA domain.JobAssignment) {
	t.Helper()
	alice = env.user(t, "alice")
	bob = env.user(t, "bob")
	bobJA = env.jobAssignment(t, bob.ID, nil, nil)
	aliceJA = env.jobAssignment(t, alice.ID, &bobJA.ID, nil)
	return alice, bob, aliceJA, bobJA
}

func TestGenerateCreatesInstanceWithParticipants(t *testing.T) {
	env := newTestEnv(t)
	alice, bob, aliceJA, _ := env.managedPair(t)
	_ = bob
	a := env.activity(t, "quarterly review", rel(domain.RelationshipSubject), rel(domain.RelationshipManager))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, &aliceJA.ID)

	res := env.generate(t)
	if res.Created != 1 {
		t.Fatalf("expected 1 created, got %d", res.Created)
	}
	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	if len(sis) != 1 {
		t.Fatalf("expected 1 subject instance, got %d", len(sis))
	}
	si := sis[0]
	if si.Status != domain.SubjectStatusActive || si.Availability != domain.AvailabilityOpen || si.Progress != domain.ProgressNotStarted {
		t.Fatalf("unexpected instance state: %+v", si)
	}
	byRel := countByRelationship(env.participants(t, si.ID))
	if byRel[domain.RelationshipSubject] != 1 || byRel[domain.RelationshipManager] != 1 {
		t.Fatalf("unexpected participants: %v", byRel)
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	a := env.activity(t, "review", rel(domain.RelationshipSubject))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, nil)

	if res := env.generate(t); res.Created != 1 {
		t.Fatalf("first run: %+v", res)
	}
	if res := env.generate(t); res.Created != 0 {
		t.Fatalf("second run should create nothing, got %d", res.Created)
	}
}

func TestGenerateRecordsBatchEvent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	carol := env.user(t, "carol")
	a := env.activity(t, "review", rel(domain.RelationshipSubject))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, nil)
	env.assign(t, tr.ID, carol.ID, nil)

	if res := env.generate(t); res.Created != 2 {
		t.Fatalf("expected 2 created, got %+v", res)
	}
	bulk, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "subject_instance.bulk_created", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(bulk) != 1 {
		t.Fatalf("expected one batched create event, got %d", len(bulk))
	}

	// nothing to create: no new batch event
	env.generate(t)
	bulk, _ = env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "subject_instance.bulk_created", "", "")
	if len(bulk) != 1 {
		t.Fatalf("empty run must not emit a batch event, got %d", len(bulk))
	}
}

func TestGenerationModeOnePerSubject(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	ja1 := env.jobAssignment(t, alice.ID, nil, nil)
	ja2 := env.jobAssignment(t, alice.ID, nil, nil)
	a := env.activity(t, "review", rel(domain.RelationshipSubject))
	tr := env.track(t, a.ID, nil)

	env.assign(t, tr.ID, alice.ID, &ja1.ID)
	if _, err := env.Engine.AssignUser(env.Ctx, tr.ID, alice.ID, &ja2.ID, nil, nil); err == nil {
		t.Fatalf("one_per_subject must reject a second assignment for the same subject")
	}
	if res := env.generate(t); res.Created != 1 {
		t.Fatalf("expected a single instance, got %+v", res)
	}
}

func TestGenerationModeOnePerJob(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	ja1 := env.jobAssignment(t, alice.ID, nil, nil)
	ja2 := env.jobAssignment(t, alice.ID, nil, nil)
	a := env.activity(t, "per-role review", rel(domain.RelationshipSubject))
	tr := env.track(t, a.ID, func(tr *domain.Track) {
		tr.GenerationMode = domain.GenerateOnePerJob
	})

	if _, err := env.Engine.AssignUser(env.Ctx, tr.ID, alice.ID, nil, nil, nil); err == nil {
		t.Fatalf("one_per_job requires a job assignment")
	}
	env.assign(t, tr.ID, alice.ID, &ja1.ID)
	env.assign(t, tr.ID, alice.ID, &ja2.ID)
	if _, err := env.Engine.AssignUser(env.Ctx, tr.ID, alice.ID, &ja1.ID, nil, nil); err == nil {
		t.Fatalf("duplicate job assignment on one track must be rejected")
	}

	if res := env.generate(t); res.Created != 2 {
		t.Fatalf("expected one instance per job assignment, got %+v", res)
	}
	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	seen := map[string]bool{}
	for _, si := range sis {
		if si.JobAssignmentID == nil {
			t.Fatalf("instance must carry its job assignment: %+v", si)
		}
		seen[*si.JobAssignmentID] = true
	}
	if !seen[ja1.ID] || !seen[ja2.ID] {
		t.Fatalf("expected instances for both job assignments, got %v", seen)
	}
}

func TestGenerateRespectsCreationWindow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	a := env.activity(t, "review", rel(domain.RelationshipSubject))

	future := "2024-06-01T00:00:00Z"
	tr := env.track(t, a.ID, func(tr *domain.Track) { tr.ScheduleFixedFrom = &future })
	env.assign(t, tr.ID, alice.ID, nil)
	if res := env.generate(t); res.Created != 0 {
		t.Fatalf("window not open yet, got %d created", res.Created)
	}

	*env.Now = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	if res := env.generate(t); res.Created != 1 {
		t.Fatalf("window open, got %d created", res.Created)
	}
}

func TestGenerateEndOnlyWindowSuppressed(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	a := env.activity(t, "review", rel(domain.RelationshipSubject))
	end := "2024-12-31T00:00:00Z"
	tr := env.track(t, a.ID, func(tr *domain.Track) { tr.ScheduleFixedTo = &end })
	env.assign(t, tr.ID, alice.ID, nil)

	if res := env.generate(t); res.Created != 0 {
		t.Fatalf("end bound without start must suppress creation, got %d", res.Created)
	}
}

func TestRepeatingWithLimit(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	a := env.activity(t, "weekly check-in", rel(domain.RelationshipSubject))
	limit := 3
	tr := env.track(t, a.ID, func(tr *domain.Track) {
		tr.RepeatingEnabled = true
		tr.RepeatingTrigger = domain.TriggerAfterCreation
		tr.RepeatingOffset = &domain.DateOffset{Count: 1, Unit: domain.UnitWeek}
		tr.RepeatLimit = &limit
	})
	env.assign(t, tr.ID, alice.ID, nil)

	for week := 0; week < 6; week++ {
		env.generate(t)
		env.advance(7 * 24 * time.Hour)
	}
	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	if len(sis) != 3 {
		t.Fatalf("expected limit of 3 instances, got %d", len(sis))
	}

	// raising the limit applies retroactively
	raised := 5
	tr.RepeatLimit = &raised
	if _, err := env.Engine.UpdateTrack(env.Ctx, tr); err != nil {
		t.Fatalf("update track: %v", err)
	}
	env.generate(t)
	sis = env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	if len(sis) != 4 {
		t.Fatalf("expected 4 instances after raising limit, got %d", len(sis))
	}
}

func TestRepeatAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	a := env.activity(t, "review", rel(domain.RelationshipSubject))
	tr := env.track(t, a.ID, func(tr *domain.Track) {
		tr.RepeatingEnabled = true
		tr.RepeatingTrigger = domain.TriggerAfterCompletion
		tr.RepeatingOffset = &domain.DateOffset{Count: 1, Unit: domain.UnitDay}
	})
	env.assign(t, tr.ID, alice.ID, nil)
	env.generate(t)

	// no completion yet: repeated runs add nothing
	env.advance(30 * 24 * time.Hour)
	if res := env.generate(t); res.Created != 0 {
		t.Fatalf("no completion, got %d created", res.Created)
	}

	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	ps := env.participants(t, sis[0].ID)
	if _, err := env.Engine.SetParticipantProgress(env.Ctx, ps[0].ID, domain.ProgressComplete); err != nil {
		t.Fatalf("complete participant: %v", err)
	}
	env.advance(48 * time.Hour)
	if res := env.generate(t); res.Created != 1 {
		t.Fatalf("expected repeat after completion, got %d", res.Created)
	}
}

func TestManualRelationshipsStartPending(t *testing.T) {
	env := newTestEnv(t)
	alice, _, aliceJA, _ := env.managedPair(t)
	a := env.activity(t, "360 feedback",
		rel(domain.RelationshipSubject), rel(domain.RelationshipManager),
		rel(domain.RelationshipPeer), rel(domain.RelationshipExternal))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, &aliceJA.ID)
	env.generate(t)

	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	if len(sis) != 1 || sis[0].Status != domain.SubjectStatusPending {
		t.Fatalf("expected one pending instance, got %+v", sis)
	}
	if ps := env.participants(t, sis[0].ID); len(ps) != 0 {
		t.Fatalf("pending instance must have no participants, got %d", len(ps))
	}

	carol := env.user(t, "carol")
	si, err := env.Engine.SetParticipantUsers(env.Ctx, sis[0].ID, alice.ID, []domain.ManualSelection{
		{Relationship: domain.RelationshipPeer, UserID: carol.ID},
		{Relationship: domain.RelationshipExternal, ExternalEmail: "ext@example.org"},
	})
	if err != nil {
		t.Fatalf("set participant users: %v", err)
	}
	if si.Status != domain.SubjectStatusActive {
		t.Fatalf("expected activation, got %s", si.Status)
	}
	ps := env.participants(t, si.ID)
	byRel := countByRelationship(ps)
	if byRel[domain.RelationshipSubject] != 1 || byRel[domain.RelationshipManager] != 1 ||
		byRel[domain.RelationshipPeer] != 1 || byRel[domain.RelationshipExternal] != 1 {
		t.Fatalf("unexpected participants after activation: %v", byRel)
	}
	for _, p := range ps {
		if p.Relationship == domain.RelationshipExternal {
			if p.Source != domain.SourceExternal || p.ExternalToken == "" {
				t.Fatalf("external participant needs a token: %+v", p)
			}
		}
	}

	// second selection on an activated instance is rejected
	if _, err := env.Engine.SetParticipantUsers(env.Ctx, si.ID, alice.ID, nil); err == nil {
		t.Fatalf("expected error for non-pending instance")
	}
}

func TestManuallyCloseCascades(t *testing.T) {
	env := newTestEnv(t)
	alice, _, aliceJA, _ := env.managedPair(t)
	a := env.activity(t, "review",
		rel(domain.RelationshipSubject), rel(domain.RelationshipManager), viewOnly(domain.RelationshipManagersManager))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, &aliceJA.ID)
	env.generate(t)

	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	ps := env.participants(t, sis[0].ID)
	// one participant completes before closure
	if _, err := env.Engine.SetParticipantProgress(env.Ctx, ps[0].ID, domain.ProgressComplete); err != nil {
		t.Fatalf("complete: %v", err)
	}

	si, err := env.Engine.ManuallyClose(env.Ctx, sis[0].ID, false)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if si.Availability != domain.AvailabilityClosed || si.ClosedAt == nil {
		t.Fatalf("unexpected state after close: %+v", si)
	}
	if si.Progress != domain.ProgressNotSubmitted {
		t.Fatalf("incomplete subject progress must become not_submitted, got %s", si.Progress)
	}
	for _, p := range env.participants(t, si.ID) {
		switch {
		case p.ID == ps[0].ID:
			if p.Progress != domain.ProgressComplete {
				t.Fatalf("completed participant must keep progress, got %s", p.Progress)
			}
		case p.IsViewOnly():
			if p.Availability != domain.AvailabilityNotApplicable {
				t.Fatalf("view-only participant must stay not_applicable, got %s", p.Availability)
			}
		default:
			if p.Availability != domain.AvailabilityClosed || p.Progress != domain.ProgressNotSubmitted {
				t.Fatalf("open participant must close as not_submitted: %+v", p)
			}
		}
	}

	// closing again is an error
	if _, err := env.Engine.ManuallyClose(env.Ctx, si.ID, false); err == nil {
		t.Fatalf("expected error closing closed instance")
	}
}

func TestManuallyClosePendingRequiresForce(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	a := env.activity(t, "feedback", rel(domain.RelationshipSubject), rel(domain.RelationshipPeer))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, nil)
	env.generate(t)

	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	if _, err := env.Engine.ManuallyClose(env.Ctx, sis[0].ID, false); err == nil {
		t.Fatalf("expected error closing pending instance without force")
	}
	if _, err := env.Engine.ManuallyClose(env.Ctx, sis[0].ID, true); err != nil {
		t.Fatalf("forced close: %v", err)
	}
}

func TestManuallyOpenReopensParticipants(t *testing.T) {
	env := newTestEnv(t)
	alice, _, aliceJA, _ := env.managedPair(t)
	a := env.activity(t, "review", rel(domain.RelationshipSubject), rel(domain.RelationshipManager))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, &aliceJA.ID)
	env.generate(t)

	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	ps := env.participants(t, sis[0].ID)
	if _, err := env.Engine.SetParticipantProgress(env.Ctx, ps[0].ID, domain.ProgressComplete); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := env.Engine.ManuallyClose(env.Ctx, sis[0].ID, false); err != nil {
		t.Fatalf("close: %v", err)
	}

	si, err := env.Engine.ManuallyOpen(env.Ctx, sis[0].ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if si.Availability != domain.AvailabilityOpen || si.ClosedAt != nil {
		t.Fatalf("unexpected state after reopen: %+v", si)
	}
	for _, p := range env.participants(t, si.ID) {
		if p.ID == ps[0].ID {
			// completed participants stay closed
			if p.Availability != domain.AvailabilityClosed || p.Progress != domain.ProgressComplete {
				t.Fatalf("completed participant changed on reopen: %+v", p)
			}
			continue
		}
		if p.Availability != domain.AvailabilityOpen || p.Progress != domain.ProgressNotStarted {
			t.Fatalf("participant not reopened: %+v", p)
		}
	}

	reopened, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, a.ID, "participant_instance.reopened", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(reopened) != 1 {
		t.Fatalf("expected one participant reopened event, got %d", len(reopened))
	}
}

func TestCloseActivityInstancesBatchedEvent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	carol := env.user(t, "carol")
	a := env.activity(t, "review", rel(domain.RelationshipSubject))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, nil)
	env.assign(t, tr.ID, carol.ID, nil)
	env.generate(t)

	n, err := env.Engine.CloseActivityInstances(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("close activity: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 closed, got %d", n)
	}
	bulk, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, a.ID, "subject_instance.bulk_closed", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(bulk) != 1 {
		t.Fatalf("expected exactly one batched close event, got %d", len(bulk))
	}

	// nothing open: no-op, no new event
	n, err = env.Engine.CloseActivityInstances(env.Ctx, a.ID)
	if err != nil || n != 0 {
		t.Fatalf("expected no-op, got n=%d err=%v", n, err)
	}
	bulk, _ = env.Engine.Repo.LatestEvents(env.Ctx, 10, a.ID, "subject_instance.bulk_closed", "", "")
	if len(bulk) != 1 {
		t.Fatalf("no-op close must not emit an event, got %d", len(bulk))
	}
}

func TestCloseDueInstances(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	carol := env.user(t, "carol")
	dave := env.user(t, "dave")

	dueActivity := env.activity(t, "due on time", rel(domain.RelationshipSubject))
	on := true
	if err := env.Engine.Repo.UpdateActivitySettings(env.Ctx, dueActivity.ID, repo.ActivitySettings{CloseOnDueDate: &on}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	dueTrack := env.track(t, dueActivity.ID, func(tr *domain.Track) {
		tr.DueDateMode = domain.DueDateRelative
		tr.DueDateOffset = &domain.DateOffset{Count: 1, Unit: domain.UnitWeek}
	})
	env.assign(t, dueTrack.ID, alice.ID, nil)

	// same track, but pending through a manual relationship
	pendingActivity := env.activity(t, "due but pending", rel(domain.RelationshipSubject), rel(domain.RelationshipPeer))
	if err := env.Engine.Repo.UpdateActivitySettings(env.Ctx, pendingActivity.ID, repo.ActivitySettings{CloseOnDueDate: &on}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	pendingTrack := env.track(t, pendingActivity.ID, func(tr *domain.Track) {
		tr.DueDateMode = domain.DueDateRelative
		tr.DueDateOffset = &domain.DateOffset{Count: 1, Unit: domain.UnitWeek}
	})
	env.assign(t, pendingTrack.ID, carol.ID, nil)

	// closure disabled for this activity
	offActivity := env.activity(t, "due but disabled", rel(domain.RelationshipSubject))
	offTrack := env.track(t, offActivity.ID, func(tr *domain.Track) {
		tr.DueDateMode = domain.DueDateRelative
		tr.DueDateOffset = &domain.DateOffset{Count: 1, Unit: domain.UnitWeek}
	})
	env.assign(t, offTrack.ID, dave.ID, nil)

	env.generate(t)
	env.advance(8 * 24 * time.Hour)

	n, err := env.Engine.CloseDueInstances(env.Ctx)
	if err != nil {
		t.Fatalf("close due: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly the active overdue instance closed, got %d", n)
	}
	for _, tc := range []struct {
		activityID string
		want       string
	}{
		{dueActivity.ID, domain.AvailabilityClosed},
		{pendingActivity.ID, domain.AvailabilityOpen},
		{offActivity.ID, domain.AvailabilityOpen},
	} {
		sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: tc.activityID})
		if len(sis) != 1 || sis[0].Availability != tc.want {
			t.Fatalf("activity %s: expected %s, got %+v", tc.activityID, tc.want, sis)
		}
	}
}

func TestProgressAggregation(t *testing.T) {
	env := newTestEnv(t)
	alice, _, aliceJA, _ := env.managedPair(t)
	a := env.activity(t, "review", rel(domain.RelationshipSubject), rel(domain.RelationshipManager))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, &aliceJA.ID)
	env.generate(t)

	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	ps := env.participants(t, sis[0].ID)

	if _, err := env.Engine.SetParticipantProgress(env.Ctx, ps[0].ID, domain.ProgressInProgress); err != nil {
		t.Fatalf("in progress: %v", err)
	}
	si, _ := env.Engine.Repo.GetSubjectInstance(env.Ctx, sis[0].ID)
	if si.Progress != domain.ProgressInProgress {
		t.Fatalf("expected in_progress, got %s", si.Progress)
	}

	for _, p := range ps {
		if _, err := env.Engine.SetParticipantProgress(env.Ctx, p.ID, domain.ProgressComplete); err != nil {
			t.Fatalf("complete %d: %v", p.ID, err)
		}
	}
	si, _ = env.Engine.Repo.GetSubjectInstance(env.Ctx, sis[0].ID)
	if si.Progress != domain.ProgressComplete || si.CompletedAt == nil {
		t.Fatalf("expected complete with timestamp, got %+v", si)
	}
}

func TestSuspendedSubjectSkipped(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	if err := env.Engine.SetUserSuspended(env.Ctx, alice.ID, true); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	a := env.activity(t, "review", rel(domain.RelationshipSubject))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, nil)

	if res := env.generate(t); res.Created != 0 {
		t.Fatalf("suspended subject must be skipped, got %d", res.Created)
	}

	// visibility is a config decision
	env.Engine.Config.Users.HideSuspended = false
	if res := env.generate(t); res.Created != 1 {
		t.Fatalf("suspended subject allowed when not hidden, got %d", res.Created)
	}
}
