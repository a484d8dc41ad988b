package engine

import (
	"context"
	"fmt"

	"appraise/internal/config"
	"appraise/internal/domain"
	"appraise/internal/events"
	"appraise/internal/graph"
)

// SyncResult summarizes one re-sync run.
type SyncResult struct {
	Synced   int
	Added    int
	Reopened int
	Closed   int
}

// SyncFlaggedInstances reconciles the participant sets of all flagged
// subject instances against the current job assignment graph. Per instance
// the order is additions, then reopens, then closures, so a user who moved
// between relationships ends the run with exactly one live participant
// instance per relationship. Every processed instance is unflagged, even
// when both sync directions are disabled for its activity.
func (e Engine) SyncFlaggedInstances(ctx context.Context, limit int) (SyncResult, error) {
	var res SyncResult
	batch := &BatchError{}

	if limit <= 0 && e.Config != nil {
		limit = e.Config.Jobs.SyncBatchSize
	}
	candidates, err := e.Repo.ListSyncCandidates(ctx, limit)
	if err != nil {
		return res, err
	}
	if len(candidates) == 0 {
		return res, nil
	}
	snap, err := e.snapshot(ctx)
	if err != nil {
		return res, err
	}

	activities := map[string]domain.Activity{}
	relationships := map[string][]domain.ActivityRelationship{}
	for _, si := range candidates {
		activity, ok := activities[si.ActivityID]
		if !ok {
			activity, err = e.Repo.GetActivity(ctx, si.ActivityID)
			if err != nil {
				batch.add(fmt.Errorf("subject instance %d: %w", si.ID, err))
				continue
			}
			activities[si.ActivityID] = activity
			rels, err := e.Repo.ListActivityRelationships(ctx, si.ActivityID)
			if err != nil {
				batch.add(fmt.Errorf("subject instance %d: %w", si.ID, err))
				continue
			}
			relationships[si.ActivityID] = rels
		}
		added, reopened, closed, err := e.syncInstance(ctx, si, relationships[si.ActivityID], snap, e.settings(activity))
		if err != nil {
			batch.add(fmt.Errorf("subject instance %d: %w", si.ID, err))
			continue
		}
		res.Synced++
		res.Added += added
		res.Reopened += reopened
		res.Closed += closed
	}
	return res, batch.orNil()
}

// syncInstance reconciles one subject instance in a single transaction.
func (e Engine) syncInstance(ctx context.Context, si domain.SubjectInstance, rels []domain.ActivityRelationship, snap *graph.Snapshot, settings config.SyncSettings) (added, reopened, closed int, err error) {
	expected := map[string]map[string]bool{}
	graphRels := map[string]bool{}
	skipped := map[string]bool{}
	for _, rel := range rels {
		if domain.IsManualRelationship(rel.Relationship) {
			continue
		}
		graphRels[rel.Relationship] = true
		set := map[string]bool{}
		for _, userID := range snap.Resolve(rel.Relationship, si.SubjectUserID, si.JobAssignmentID) {
			if _, seen := skipped[userID]; !seen {
				skip, err := e.skipParticipantUser(ctx, userID)
				if err != nil {
					return 0, 0, 0, err
				}
				skipped[userID] = skip
			}
			if skipped[userID] {
				continue
			}
			set[userID] = true
		}
		expected[rel.Relationship] = set
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, 0, err
	}
	defer tx.Rollback()

	participants, err := e.Repo.ListParticipantsTx(ctx, tx, si.ID)
	if err != nil {
		return 0, 0, 0, err
	}
	present := map[string]bool{}
	for _, pi := range participants {
		if pi.Source == domain.SourceInternal {
			present[pi.Relationship+"|"+pi.ParticipantUserID] = true
		}
	}

	if settings.Creation {
		added, err = e.createParticipantsTx(ctx, tx, si, rels, snap, nil, present)
		if err != nil {
			return added, 0, 0, err
		}

		for _, pi := range participants {
			if pi.Source != domain.SourceInternal || !graphRels[pi.Relationship] {
				continue
			}
			if pi.Availability != domain.AvailabilityClosed || pi.Progress == domain.ProgressComplete {
				continue
			}
			if !expected[pi.Relationship][pi.ParticipantUserID] {
				continue
			}
			if err := e.Repo.UpdateParticipantAvailabilityTx(ctx, tx, pi.ID, domain.AvailabilityOpen, nil); err != nil {
				return added, reopened, closed, err
			}
			if pi.Progress == domain.ProgressNotSubmitted {
				if err := e.Repo.UpdateParticipantProgressTx(ctx, tx, pi.ID, domain.ProgressNotStarted); err != nil {
					return added, reopened, closed, err
				}
			}
			if err := e.Events.Append(ctx, tx, "participant_instance.reopened", si.ActivityID, "participant_instance", fmt.Sprint(pi.ID), events.EventPayload{
				"subject_instance_id": si.ID,
			}); err != nil {
				return added, reopened, closed, err
			}
			reopened++
		}
	}

	if settings.Closure {
		now := e.nowString()
		for _, pi := range participants {
			if pi.Source != domain.SourceInternal || !graphRels[pi.Relationship] {
				continue
			}
			if pi.Availability != domain.AvailabilityOpen || pi.Progress == domain.ProgressComplete {
				continue
			}
			if expected[pi.Relationship][pi.ParticipantUserID] {
				continue
			}
			if err := e.Repo.UpdateParticipantAvailabilityTx(ctx, tx, pi.ID, domain.AvailabilityClosed, &now); err != nil {
				return added, reopened, closed, err
			}
			if err := e.Repo.UpdateParticipantProgressTx(ctx, tx, pi.ID, domain.ProgressNotSubmitted); err != nil {
				return added, reopened, closed, err
			}
			if err := e.Events.Append(ctx, tx, "participant_instance.closed", si.ActivityID, "participant_instance", fmt.Sprint(pi.ID), events.EventPayload{
				"subject_instance_id": si.ID,
			}); err != nil {
				return added, reopened, closed, err
			}
			closed++
		}
	}

	if added > 0 || reopened > 0 || closed > 0 {
		if _, err := e.recomputeSubjectProgressTx(ctx, tx, si); err != nil {
			return added, reopened, closed, err
		}
	}
	if err := e.Repo.MarkNeedsSyncTx(ctx, tx, []int64{si.ID}, false); err != nil {
		return added, reopened, closed, err
	}
	if err := tx.Commit(); err != nil {
		return added, reopened, closed, err
	}
	return added, reopened, closed, nil
}
