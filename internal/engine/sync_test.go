package engine_test

import (
	"testing"

	"appraise/internal/domain"
	"appraise/internal/repo"
)

// syncScenario seeds alice reporting to bob on an activity with subject and
// manager participants, generates her instance, and returns the pieces the
// flag and sync tests manipulate.
type syncScenario struct {
	env     testEnv
	alice   domain.User
	bob     domain.User
	aliceJA domain.JobAssignment
	bobJA   domain.JobAssignment
	si      domain.SubjectInstance
}

func newSyncScenario(t *testing.T) syncScenario {
	t.Helper()
	env := newTestEnv(t)
	alice, bob, aliceJA, bobJA := env.managedPair(t)
	a := env.activity(t, "review", rel(domain.RelationshipSubject), rel(domain.RelationshipManager))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, &aliceJA.ID)
	env.generate(t)

	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	if len(sis) != 1 {
		t.Fatalf("expected one instance, got %d", len(sis))
	}
	return syncScenario{env: env, alice: alice, bob: bob, aliceJA: aliceJA, bobJA: bobJA, si: sis[0]}
}

func (s syncScenario) reload(t *testing.T) domain.SubjectInstance {
	t.Helper()
	si, err := s.env.Engine.Repo.GetSubjectInstance(s.env.Ctx, s.si.ID)
	if err != nil {
		t.Fatalf("reload instance: %v", err)
	}
	return si
}

func (s syncScenario) managerParticipants(t *testing.T) map[string]domain.ParticipantInstance {
	t.Helper()
	out := map[string]domain.ParticipantInstance{}
	for _, p := range s.env.participants(t, s.si.ID) {
		if p.Relationship == domain.RelationshipManager && p.ParticipantUserID != "" {
			out[p.ParticipantUserID] = p
		}
	}
	return out
}

func TestManagerChangeFlagsAndSyncs(t *testing.T) {
	s := newSyncScenario(t)
	env := s.env

	erin := env.user(t, "erin")
	erinJA := env.jobAssignment(t, erin.ID, nil, nil)
	if _, err := env.Engine.UpdateJobAssignment(env.Ctx, s.aliceJA.ID, &erinJA.ID, nil); err != nil {
		t.Fatalf("update job assignment: %v", err)
	}
	if si := s.reload(t); !si.NeedsSync {
		t.Fatalf("instance must be flagged after manager change")
	}

	res, err := env.Engine.SyncFlaggedInstances(env.Ctx, 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Synced != 1 || res.Added != 1 || res.Closed != 1 {
		t.Fatalf("unexpected sync result: %+v", res)
	}

	managers := s.managerParticipants(t)
	if p := managers[erin.ID]; p.Availability != domain.AvailabilityOpen {
		t.Fatalf("new manager must be added open: %+v", p)
	}
	if p := managers[s.bob.ID]; p.Availability != domain.AvailabilityClosed || p.Progress != domain.ProgressNotSubmitted {
		t.Fatalf("old manager must be closed as not_submitted: %+v", p)
	}
	if si := s.reload(t); si.NeedsSync {
		t.Fatalf("instance must be unflagged after sync")
	}
}

func TestManagerRestoredReopensParticipant(t *testing.T) {
	s := newSyncScenario(t)
	env := s.env

	erin := env.user(t, "erin")
	erinJA := env.jobAssignment(t, erin.ID, nil, nil)
	if _, err := env.Engine.UpdateJobAssignment(env.Ctx, s.aliceJA.ID, &erinJA.ID, nil); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if _, err := env.Engine.SyncFlaggedInstances(env.Ctx, 0); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// move alice back under bob
	if _, err := env.Engine.UpdateJobAssignment(env.Ctx, s.aliceJA.ID, &s.bobJA.ID, nil); err != nil {
		t.Fatalf("reassign back: %v", err)
	}
	res, err := env.Engine.SyncFlaggedInstances(env.Ctx, 0)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Reopened != 1 || res.Added != 0 {
		t.Fatalf("existing record must be reopened, not re-added: %+v", res)
	}
	managers := s.managerParticipants(t)
	if p := managers[s.bob.ID]; p.Availability != domain.AvailabilityOpen || p.Progress != domain.ProgressNotStarted {
		t.Fatalf("restored manager must reopen as not_started: %+v", p)
	}
}

func TestFlaggingRespectsActivitySyncSettings(t *testing.T) {
	s := newSyncScenario(t)
	env := s.env

	off := false
	override := true
	if err := env.Engine.Repo.UpdateActivitySettings(env.Ctx, s.si.ActivityID, repo.ActivitySettings{
		OverrideSyncSettings: &override,
		SyncCreation:         &off,
		SyncClosure:          &off,
	}); err != nil {
		t.Fatalf("settings: %v", err)
	}

	erin := env.user(t, "erin")
	erinJA := env.jobAssignment(t, erin.ID, nil, nil)
	if _, err := env.Engine.UpdateJobAssignment(env.Ctx, s.aliceJA.ID, &erinJA.ID, nil); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if si := s.reload(t); si.NeedsSync {
		t.Fatalf("activity opted out of sync, instance must not be flagged")
	}
}

func TestJobAssignmentDeleteClosesManager(t *testing.T) {
	s := newSyncScenario(t)
	env := s.env

	if err := env.Engine.DeleteJobAssignment(env.Ctx, s.aliceJA.ID); err != nil {
		t.Fatalf("delete job assignment: %v", err)
	}
	if si := s.reload(t); !si.NeedsSync {
		t.Fatalf("instance must be flagged after edge removal")
	}

	res, err := env.Engine.SyncFlaggedInstances(env.Ctx, 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Closed != 1 || res.Added != 0 {
		t.Fatalf("unexpected sync result: %+v", res)
	}
	managers := s.managerParticipants(t)
	if p := managers[s.bob.ID]; p.Availability != domain.AvailabilityClosed {
		t.Fatalf("manager must be closed after edge removal: %+v", p)
	}
	// the subject keeps participating
	for _, p := range env.participants(t, s.si.ID) {
		if p.Relationship == domain.RelationshipSubject && p.Availability != domain.AvailabilityOpen {
			t.Fatalf("subject participant must stay open: %+v", p)
		}
	}
}

func TestSyncLeavesManualParticipantsAlone(t *testing.T) {
	env := newTestEnv(t)
	alice, _, aliceJA, _ := env.managedPair(t)
	a := env.activity(t, "360 feedback",
		rel(domain.RelationshipSubject), rel(domain.RelationshipManager), rel(domain.RelationshipPeer))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, &aliceJA.ID)
	env.generate(t)

	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	carol := env.user(t, "carol")
	si, err := env.Engine.SetParticipantUsers(env.Ctx, sis[0].ID, alice.ID, []domain.ManualSelection{
		{Relationship: domain.RelationshipPeer, UserID: carol.ID},
	})
	if err != nil {
		t.Fatalf("set participant users: %v", err)
	}

	if err := env.Engine.DeleteJobAssignment(env.Ctx, aliceJA.ID); err != nil {
		t.Fatalf("delete job assignment: %v", err)
	}
	if _, err := env.Engine.SyncFlaggedInstances(env.Ctx, 0); err != nil {
		t.Fatalf("sync: %v", err)
	}
	for _, p := range env.participants(t, si.ID) {
		if p.Relationship == domain.RelationshipPeer && p.Availability != domain.AvailabilityOpen {
			t.Fatalf("manual participant must be untouched by sync: %+v", p)
		}
	}
}

func TestSyncSkipsCompletedParticipants(t *testing.T) {
	s := newSyncScenario(t)
	env := s.env

	managers := s.managerParticipants(t)
	if _, err := env.Engine.SetParticipantProgress(env.Ctx, managers[s.bob.ID].ID, domain.ProgressComplete); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := env.Engine.DeleteJobAssignment(env.Ctx, s.aliceJA.ID); err != nil {
		t.Fatalf("delete job assignment: %v", err)
	}
	res, err := env.Engine.SyncFlaggedInstances(env.Ctx, 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Closed != 0 {
		t.Fatalf("completed participant must not be force-closed: %+v", res)
	}
	managers = s.managerParticipants(t)
	if p := managers[s.bob.ID]; p.Progress != domain.ProgressComplete {
		t.Fatalf("completed contribution must survive sync: %+v", p)
	}
}

func TestBareJobAssignmentDoesNotFlag(t *testing.T) {
	s := newSyncScenario(t)
	env := s.env

	// no manager, no appraiser: the new assignment carries no edges and
	// cannot change anyone's participant set
	env.jobAssignment(t, s.alice.ID, nil, nil)
	if si := s.reload(t); si.NeedsSync {
		t.Fatalf("edgeless job assignment must not flag the owner's instance")
	}
}

func TestJobAssignmentDeleteDetachesInstance(t *testing.T) {
	s := newSyncScenario(t)
	env := s.env

	if err := env.Engine.DeleteJobAssignment(env.Ctx, s.aliceJA.ID); err != nil {
		t.Fatalf("delete job assignment: %v", err)
	}
	si := s.reload(t)
	if si.JobAssignmentID != nil {
		t.Fatalf("instance must drop the deleted job assignment reference: %+v", si)
	}
	if _, err := env.Engine.Repo.GetJobAssignment(env.Ctx, s.aliceJA.ID); err != repo.ErrNotFound {
		t.Fatalf("expected job assignment gone, got %v", err)
	}
}

func TestSyncClosureCompletesSubject(t *testing.T) {
	s := newSyncScenario(t)
	env := s.env

	var subjectPI domain.ParticipantInstance
	for _, p := range env.participants(t, s.si.ID) {
		if p.Relationship == domain.RelationshipSubject {
			subjectPI = p
		}
	}
	if _, err := env.Engine.SetParticipantProgress(env.Ctx, subjectPI.ID, domain.ProgressComplete); err != nil {
		t.Fatalf("complete subject: %v", err)
	}
	if si := s.reload(t); si.Progress != domain.ProgressInProgress {
		t.Fatalf("manager still outstanding, expected in_progress, got %s", si.Progress)
	}

	// the manager edge disappears; closing bob out leaves alice's completed
	// contribution as the whole of the answerable set
	if err := env.Engine.DeleteJobAssignment(env.Ctx, s.aliceJA.ID); err != nil {
		t.Fatalf("delete job assignment: %v", err)
	}
	res, err := env.Engine.SyncFlaggedInstances(env.Ctx, 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Closed != 1 {
		t.Fatalf("unexpected sync result: %+v", res)
	}
	si := s.reload(t)
	if si.Progress != domain.ProgressComplete || si.CompletedAt == nil {
		t.Fatalf("subject must complete once the stale manager is closed out: %+v", si)
	}
}

func TestDeleteUserClosesOwnInstances(t *testing.T) {
	s := newSyncScenario(t)
	env := s.env

	if err := env.Engine.DeleteUser(env.Ctx, s.alice.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if si := s.reload(t); si.Availability != domain.AvailabilityClosed {
		t.Fatalf("deleted subject's instance must close: %+v", si)
	}
}

func TestDeleteUserRemovesPendingInstance(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	a := env.activity(t, "360 feedback", rel(domain.RelationshipSubject), rel(domain.RelationshipPeer))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, nil)
	env.generate(t)

	sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID})
	if len(sis) != 1 || !sis[0].IsPending() {
		t.Fatalf("expected one pending instance, got %+v", sis)
	}

	if err := env.Engine.DeleteUser(env.Ctx, alice.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	// nobody was ever picked: the shell is removed, not closed
	if _, err := env.Engine.Repo.GetSubjectInstance(env.Ctx, sis[0].ID); err != repo.ErrNotFound {
		t.Fatalf("expected pending instance gone, got %v", err)
	}
	deleted, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, a.ID, "subject_instance.deleted", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(deleted) != 1 {
		t.Fatalf("expected one deleted event, got %d", len(deleted))
	}
}

func TestCloseSuspendedInstancesSkipsPending(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Users.CloseSuspendedInstances = true
	alice := env.user(t, "alice")

	active := env.activity(t, "review", rel(domain.RelationshipSubject))
	activeTr := env.track(t, active.ID, nil)
	env.assign(t, activeTr.ID, alice.ID, nil)

	pending := env.activity(t, "360 feedback", rel(domain.RelationshipSubject), rel(domain.RelationshipPeer))
	pendingTr := env.track(t, pending.ID, nil)
	env.assign(t, pendingTr.ID, alice.ID, nil)

	env.generate(t)
	if err := env.Engine.SetUserSuspended(env.Ctx, alice.ID, true); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	closed, err := env.Engine.CloseSuspendedUserInstances(env.Ctx)
	if err != nil {
		t.Fatalf("close suspended: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected only the activated instance closed, got %d", closed)
	}
	if sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: active.ID}); sis[0].Availability != domain.AvailabilityClosed {
		t.Fatalf("activated instance must close: %+v", sis[0])
	}
	if sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: pending.ID}); sis[0].Availability != domain.AvailabilityOpen {
		t.Fatalf("instance awaiting selection must stay open: %+v", sis[0])
	}
}

func TestSuspensionFlagsParticipation(t *testing.T) {
	s := newSyncScenario(t)
	env := s.env

	// bob participates as manager; suspending him flags alice's instance for
	// closure under hide_suspended
	if err := env.Engine.SetUserSuspended(env.Ctx, s.bob.ID, true); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if si := s.reload(t); !si.NeedsSync {
		t.Fatalf("instance must be flagged when a participant is suspended")
	}
	res, err := env.Engine.SyncFlaggedInstances(env.Ctx, 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Closed != 1 {
		t.Fatalf("suspended manager must be closed out: %+v", res)
	}

	// reinstating flags again; the record is reopened rather than duplicated
	if err := env.Engine.SetUserSuspended(env.Ctx, s.bob.ID, false); err != nil {
		t.Fatalf("unsuspend: %v", err)
	}
	res, err = env.Engine.SyncFlaggedInstances(env.Ctx, 0)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Reopened != 1 || res.Added != 0 {
		t.Fatalf("unexpected sync result: %+v", res)
	}
}

func TestHierarchyChangeSyncsAllRelationships(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	carol := env.user(t, "carol")
	dave := env.user(t, "dave")
	erin := env.user(t, "erin")

	// carol <- bob <- alice <- dave, with erin appraising alice
	carolJA := env.jobAssignment(t, carol.ID, nil, nil)
	bobJA := env.jobAssignment(t, bob.ID, &carolJA.ID, nil)
	aliceJA := env.jobAssignment(t, alice.ID, &bobJA.ID, &erin.ID)
	daveJA := env.jobAssignment(t, dave.ID, &aliceJA.ID, nil)

	a := env.activity(t, "360 review",
		rel(domain.RelationshipSubject), rel(domain.RelationshipManager),
		rel(domain.RelationshipManagersManager), rel(domain.RelationshipDirectReport),
		rel(domain.RelationshipAppraiser))
	tr := env.track(t, a.ID, nil)
	env.assign(t, tr.ID, alice.ID, &aliceJA.ID)
	env.assign(t, tr.ID, bob.ID, &bobJA.ID)
	env.assign(t, tr.ID, dave.ID, &daveJA.ID)
	if res := env.generate(t); res.Created != 3 {
		t.Fatalf("expected 3 instances, got %+v", res)
	}

	instanceFor := func(userID string) domain.SubjectInstance {
		sis := env.instances(t, repo.SubjectInstanceFilters{ActivityID: a.ID, SubjectUserID: userID})
		if len(sis) != 1 {
			t.Fatalf("expected one instance for %s, got %d", userID, len(sis))
		}
		return sis[0]
	}
	byRelUser := func(siID int64) map[string]domain.ParticipantInstance {
		out := map[string]domain.ParticipantInstance{}
		for _, p := range env.participants(t, siID) {
			out[p.Relationship+"/"+p.ParticipantUserID] = p
		}
		return out
	}
	totalParticipants := func() int {
		n := 0
		for _, u := range []string{alice.ID, bob.ID, dave.ID} {
			n += len(env.participants(t, instanceFor(u).ID))
		}
		return n
	}
	before := totalParticipants()

	// alice leaves bob's team; the appraiser relationship survives the move
	if _, err := env.Engine.UpdateJobAssignment(env.Ctx, aliceJA.ID, nil, &erin.ID); err != nil {
		t.Fatalf("update job assignment: %v", err)
	}
	res, err := env.Engine.SyncFlaggedInstances(env.Ctx, 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	// alice loses manager and manager's manager, bob loses a direct report,
	// dave loses his manager's manager
	if res.Synced != 3 || res.Closed != 4 || res.Added != 0 || res.Reopened != 0 {
		t.Fatalf("unexpected sync result: %+v", res)
	}

	alicePs := byRelUser(instanceFor(alice.ID).ID)
	if p := alicePs[domain.RelationshipManager+"/"+bob.ID]; p.Availability != domain.AvailabilityClosed || p.Progress != domain.ProgressNotSubmitted {
		t.Fatalf("old manager must close as not_submitted: %+v", p)
	}
	if p := alicePs[domain.RelationshipManagersManager+"/"+carol.ID]; p.Availability != domain.AvailabilityClosed {
		t.Fatalf("old manager's manager must close: %+v", p)
	}
	if p := alicePs[domain.RelationshipAppraiser+"/"+erin.ID]; p.Availability != domain.AvailabilityOpen {
		t.Fatalf("appraiser must stay open: %+v", p)
	}
	if p := alicePs[domain.RelationshipDirectReport+"/"+dave.ID]; p.Availability != domain.AvailabilityOpen {
		t.Fatalf("direct report edge is untouched by the move: %+v", p)
	}
	bobPs := byRelUser(instanceFor(bob.ID).ID)
	if p := bobPs[domain.RelationshipDirectReport+"/"+alice.ID]; p.Availability != domain.AvailabilityClosed {
		t.Fatalf("bob's direct report must close: %+v", p)
	}
	davePs := byRelUser(instanceFor(dave.ID).ID)
	if p := davePs[domain.RelationshipManager+"/"+alice.ID]; p.Availability != domain.AvailabilityOpen {
		t.Fatalf("dave still reports to alice: %+v", p)
	}
	if p := davePs[domain.RelationshipManagersManager+"/"+bob.ID]; p.Availability != domain.AvailabilityClosed {
		t.Fatalf("dave's manager's manager must close: %+v", p)
	}

	// a second pass has nothing left to reconcile and duplicates nothing
	res, err = env.Engine.SyncFlaggedInstances(env.Ctx, 0)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Synced != 0 {
		t.Fatalf("nothing flagged, got %+v", res)
	}
	if after := totalParticipants(); after != before {
		t.Fatalf("participant records changed count across syncs: %d != %d", after, before)
	}
}
