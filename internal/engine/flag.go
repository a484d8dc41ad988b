package engine

import (
	"context"

	"github.com/google/uuid"

	"appraise/internal/domain"
)

// Job assignment changes ripple into participant sets. Each mutation below
// flags the subject instances a later sync run has to reconcile, scoped to
// the sync direction the change can actually produce: a new edge can only
// add participants, a removed edge can only remove them, an updated edge can
// do both.

// CreateJobAssignment inserts the edge and flags for participant additions.
// The new edge gives the owner a manager or appraiser participant and gives
// the manager a direct report; nobody's manager's manager changes through an
// edge that did not exist before. An assignment without a manager or
// appraiser carries no edges and flags nothing.
func (e Engine) CreateJobAssignment(ctx context.Context, ja domain.JobAssignment) (domain.JobAssignment, error) {
	if _, err := e.Repo.GetUser(ctx, ja.UserID); err != nil {
		return ja, err
	}
	if ja.ID == "" {
		ja.ID = uuid.New().String()
	}
	now := e.nowString()
	ja.CreatedAt = now
	ja.UpdatedAt = now
	if err := e.Repo.InsertJobAssignment(ctx, ja); err != nil {
		return ja, err
	}
	if ja.ManagerJAID == nil && ja.AppraiserID == nil {
		return ja, nil
	}

	snap, err := e.snapshot(ctx)
	if err != nil {
		return ja, err
	}
	affected := newUserSet(ja.UserID)
	if managerID, ok := snap.Manager(ja); ok {
		affected.add(managerID)
	}
	if err := e.flagForUsers(ctx, affected.ids(), true, false); err != nil {
		return ja, err
	}
	return ja, nil
}

// UpdateJobAssignment rewrites the manager and appraiser ends of the edge
// and flags every subject whose resolved participants can differ: the owner,
// the managers on both sides of the change, and the owner's reports, whose
// manager's manager travels through this edge.
func (e Engine) UpdateJobAssignment(ctx context.Context, id string, managerJAID, appraiserID *string) (domain.JobAssignment, error) {
	old, err := e.Repo.GetJobAssignment(ctx, id)
	if err != nil {
		return old, err
	}
	oldSnap, err := e.snapshot(ctx)
	if err != nil {
		return old, err
	}

	updated := old
	updated.ManagerJAID = managerJAID
	updated.AppraiserID = appraiserID
	updated.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateJobAssignment(ctx, updated); err != nil {
		return updated, err
	}
	newSnap, err := e.snapshot(ctx)
	if err != nil {
		return updated, err
	}

	affected := newUserSet(old.UserID)
	if managerID, ok := oldSnap.Manager(old); ok {
		affected.add(managerID)
	}
	if managerID, ok := newSnap.Manager(updated); ok {
		affected.add(managerID)
	}
	for _, report := range oldSnap.ReportsVia(old.ID) {
		affected.add(report)
	}
	if err := e.flagForUsers(ctx, affected.ids(), true, true); err != nil {
		return updated, err
	}
	return updated, nil
}

// DeleteJobAssignment removes the edge and flags for participant removals:
// the owner loses manager and appraiser participants, the manager loses a
// direct report, and reports through this edge lose their manager chain.
func (e Engine) DeleteJobAssignment(ctx context.Context, id string) error {
	old, err := e.Repo.GetJobAssignment(ctx, id)
	if err != nil {
		return err
	}
	snap, err := e.snapshot(ctx)
	if err != nil {
		return err
	}

	affected := newUserSet(old.UserID)
	if managerID, ok := snap.Manager(old); ok {
		affected.add(managerID)
	}
	for _, report := range snap.ReportsVia(old.ID) {
		affected.add(report)
	}

	if err := e.Repo.DeleteJobAssignment(ctx, id); err != nil {
		return err
	}
	return e.flagForUsers(ctx, affected.ids(), false, true)
}

// flagForUsers marks the open, incomplete, activated subject instances of
// the given users for re-sync, honoring each activity's sync direction
// settings. Creation-relevant changes only flag activities syncing
// additions; closure-relevant changes only flag activities syncing removals.
func (e Engine) flagForUsers(ctx context.Context, userIDs []string, creationRelevant, closureRelevant bool) error {
	if len(userIDs) == 0 {
		return nil
	}
	candidates, err := e.Repo.ListFlagCandidates(ctx, userIDs)
	if err != nil {
		return err
	}
	return e.flagCandidates(ctx, candidates, creationRelevant, closureRelevant)
}

func (e Engine) flagCandidates(ctx context.Context, candidates []domain.SubjectInstance, creationRelevant, closureRelevant bool) error {
	if len(candidates) == 0 {
		return nil
	}
	settings := map[string]bool{}
	var ids []int64
	for _, si := range candidates {
		if si.NeedsSync {
			continue
		}
		relevant, ok := settings[si.ActivityID]
		if !ok {
			activity, err := e.Repo.GetActivity(ctx, si.ActivityID)
			if err != nil {
				return err
			}
			s := e.settings(activity)
			relevant = (creationRelevant && s.Creation) || (closureRelevant && s.Closure)
			settings[si.ActivityID] = relevant
		}
		if relevant {
			ids = append(ids, si.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkNeedsSyncTx(ctx, tx, ids, true); err != nil {
		return err
	}
	return tx.Commit()
}

type userSet struct {
	seen  map[string]bool
	order []string
}

func newUserSet(ids ...string) *userSet {
	s := &userSet{seen: map[string]bool{}}
	for _, id := range ids {
		s.add(id)
	}
	return s
}

func (s *userSet) add(id string) {
	if id == "" || s.seen[id] {
		return
	}
	s.seen[id] = true
	s.order = append(s.order, id)
}

func (s *userSet) ids() []string { return s.order }
