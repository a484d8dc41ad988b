package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"appraise/internal/domain"
	"appraise/internal/events"
	"appraise/internal/graph"
	"appraise/internal/repo"
	"appraise/internal/schedule"
)

// GenerationResult summarizes one creation run.
type GenerationResult struct {
	Created int
	Skipped int
}

// GenerateInstances walks all generation-eligible tracks and creates the
// subject instances their schedules call for. Failures on one assignment do
// not stop the run; they are aggregated into a BatchError. A run that created
// anything records one batched event over the full set.
func (e Engine) GenerateInstances(ctx context.Context) (GenerationResult, error) {
	var res GenerationResult
	var createdIDs []int64
	batch := &BatchError{}

	snap, err := e.snapshot(ctx)
	if err != nil {
		return res, err
	}
	tracks, err := e.Repo.ListGenerationTracks(ctx)
	if err != nil {
		return res, err
	}
	now := e.now()

	for _, track := range tracks {
		open, err := schedule.WindowOpen(track.ScheduleFixedFrom, track.ScheduleFixedTo, now)
		if err != nil {
			batch.add(fmt.Errorf("track %s: %w", track.ID, err))
			continue
		}
		if !open {
			continue
		}
		activity, err := e.Repo.GetActivity(ctx, track.ActivityID)
		if err != nil {
			batch.add(fmt.Errorf("track %s: %w", track.ID, err))
			continue
		}
		rels, err := e.Repo.ListActivityRelationships(ctx, activity.ID)
		if err != nil {
			batch.add(fmt.Errorf("activity %s: %w", activity.ID, err))
			continue
		}
		assignments, err := e.Repo.ListAssignments(ctx, track.ID, false)
		if err != nil {
			batch.add(fmt.Errorf("track %s: %w", track.ID, err))
			continue
		}
		for _, a := range assignments {
			id, err := e.generateForAssignment(ctx, track, activity, rels, a, snap, now)
			if err != nil {
				batch.add(fmt.Errorf("assignment %s: %w", a.ID, err))
				continue
			}
			if id > 0 {
				res.Created++
				createdIDs = append(createdIDs, id)
			} else {
				res.Skipped++
			}
		}
	}
	if len(createdIDs) > 0 {
		if err := e.recordBulkCreated(ctx, createdIDs); err != nil {
			batch.add(err)
		}
	}
	return res, batch.orNil()
}

// recordBulkCreated writes the run summary event for a generation pass. The
// per-instance created events are already committed with their instances.
func (e Engine) recordBulkCreated(ctx context.Context, ids []int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "subject_instance.bulk_created", "", "generation_run", "", events.EventPayload{
		"subject_instance_ids": ids,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish("subject_instance.bulk_created", events.EventPayload{"count": len(ids)})
	return nil
}

func (e Engine) generateForAssignment(ctx context.Context, track domain.Track, activity domain.Activity, rels []domain.ActivityRelationship, a domain.TrackUserAssignment, snap *graph.Snapshot, now time.Time) (int64, error) {
	user, err := e.Repo.GetUser(ctx, a.SubjectUserID)
	if err != nil {
		return 0, err
	}
	if user.Deleted {
		return 0, nil
	}
	if user.Suspended && e.hideSuspended() {
		return 0, nil
	}
	in, err := schedule.InPeriod(a, now)
	if err != nil {
		return 0, err
	}
	if !in {
		return 0, nil
	}

	existing, err := e.Repo.CountSubjectInstances(ctx, a.ID)
	if err != nil {
		return 0, err
	}
	if existing > 0 {
		if !track.RepeatingEnabled {
			return 0, nil
		}
		latest, err := e.Repo.LatestSubjectInstance(ctx, a.ID)
		if err != nil {
			return 0, err
		}
		ref, err := schedule.NewReference(latest)
		if err != nil {
			return 0, err
		}
		if !schedule.ShouldRepeat(track, ref, existing, now) {
			return 0, nil
		}
	}

	si, err := e.createInstance(ctx, track, activity, rels, a, snap)
	if err != nil {
		return 0, err
	}
	return si.ID, nil
}

func (e Engine) hideSuspended() bool {
	return e.Config != nil && e.Config.Users.HideSuspended
}

func hasManualRelationship(rels []domain.ActivityRelationship) bool {
	for _, rel := range rels {
		if domain.IsManualRelationship(rel.Relationship) {
			return true
		}
	}
	return false
}

// createInstance inserts a subject instance and, unless manual participant
// selection is outstanding, its participant instances, in one transaction.
func (e Engine) createInstance(ctx context.Context, track domain.Track, activity domain.Activity, rels []domain.ActivityRelationship, a domain.TrackUserAssignment, snap *graph.Snapshot) (domain.SubjectInstance, error) {
	now := e.nowString()
	dueDate, err := schedule.DueDate(track, e.now())
	if err != nil {
		return domain.SubjectInstance{}, err
	}

	status := domain.SubjectStatusActive
	if hasManualRelationship(rels) {
		status = domain.SubjectStatusPending
	}
	si := domain.SubjectInstance{
		TrackUserAssignmentID: a.ID,
		TrackID:               track.ID,
		ActivityID:            activity.ID,
		SubjectUserID:         a.SubjectUserID,
		JobAssignmentID:       a.JobAssignmentID,
		Status:                status,
		Availability:          domain.AvailabilityOpen,
		Progress:              domain.ProgressNotStarted,
		DueDate:               dueDate,
		CreatedAt:             now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return si, err
	}
	defer tx.Rollback()

	si.ID, err = e.Repo.InsertSubjectInstanceTx(ctx, tx, si)
	if err != nil {
		return si, err
	}
	participants := 0
	if status == domain.SubjectStatusActive {
		participants, err = e.createParticipantsTx(ctx, tx, si, rels, snap, nil, nil)
		if err != nil {
			return si, err
		}
	}
	if err := e.Events.Append(ctx, tx, "subject_instance.created", activity.ID, "subject_instance", fmt.Sprint(si.ID), events.EventPayload{
		"subject_user_id": si.SubjectUserID,
		"track_id":        track.ID,
		"status":          si.Status,
		"participants":    participants,
	}); err != nil {
		return si, err
	}
	if err := tx.Commit(); err != nil {
		return si, err
	}
	e.publish("subject_instance.created", events.EventPayload{
		"subject_instance_id": si.ID,
		"activity_id":         activity.ID,
		"subject_user_id":     si.SubjectUserID,
		"status":              si.Status,
	})
	return si, nil
}

// createParticipantsTx materializes participant instances for every
// configured relationship. Graph relationships resolve through the snapshot;
// manual relationships use the provided selections. Participants already in
// the exclude set are skipped, which makes re-sync additions incremental.
func (e Engine) createParticipantsTx(ctx context.Context, tx *sql.Tx, si domain.SubjectInstance, rels []domain.ActivityRelationship, snap *graph.Snapshot, selections []domain.ManualSelection, exclude map[string]bool) (int, error) {
	now := e.nowString()
	created := 0
	insert := func(pi domain.ParticipantInstance) error {
		id, err := e.Repo.InsertParticipantTx(ctx, tx, pi)
		if err != nil {
			return err
		}
		created++
		return e.Events.Append(ctx, tx, "participant_instance.created", si.ActivityID, "participant_instance", fmt.Sprint(id), events.EventPayload{
			"subject_instance_id": si.ID,
			"relationship":        pi.Relationship,
			"participant_user_id": pi.ParticipantUserID,
		})
	}

	for _, rel := range rels {
		availability := domain.AvailabilityOpen
		progress := domain.ProgressNotStarted
		if rel.ViewOnly {
			availability = domain.AvailabilityNotApplicable
			progress = domain.ProgressNotApplicable
		}
		if domain.IsManualRelationship(rel.Relationship) {
			for _, sel := range selections {
				if sel.Relationship != rel.Relationship {
					continue
				}
				pi := domain.ParticipantInstance{
					SubjectInstanceID: si.ID,
					Relationship:      rel.Relationship,
					Availability:      availability,
					Progress:          progress,
					CreatedAt:         now,
				}
				if sel.UserID != "" {
					if exclude[rel.Relationship+"|"+sel.UserID] {
						continue
					}
					pi.ParticipantUserID = sel.UserID
					pi.Source = domain.SourceInternal
				} else {
					if exclude[rel.Relationship+"|"+sel.ExternalEmail] {
						continue
					}
					pi.ExternalEmail = sel.ExternalEmail
					pi.ExternalToken = uuid.New().String()
					pi.Source = domain.SourceExternal
				}
				if err := insert(pi); err != nil {
					return created, err
				}
			}
			continue
		}
		for _, userID := range snap.Resolve(rel.Relationship, si.SubjectUserID, si.JobAssignmentID) {
			if exclude[rel.Relationship+"|"+userID] {
				continue
			}
			if skip, err := e.skipParticipantUser(ctx, userID); err != nil {
				return created, err
			} else if skip {
				continue
			}
			pi := domain.ParticipantInstance{
				SubjectInstanceID: si.ID,
				ParticipantUserID: userID,
				Relationship:      rel.Relationship,
				Source:            domain.SourceInternal,
				Availability:      availability,
				Progress:          progress,
				CreatedAt:         now,
			}
			if err := insert(pi); err != nil {
				return created, err
			}
		}
	}
	return created, nil
}

func (e Engine) skipParticipantUser(ctx context.Context, userID string) (bool, error) {
	user, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if user.Deleted {
		return true, nil
	}
	return user.Suspended && e.hideSuspended(), nil
}

// SetParticipantUsers records manual selections on a pending subject
// instance and activates it, creating all participant instances.
func (e Engine) SetParticipantUsers(ctx context.Context, subjectInstanceID int64, selectedByID string, selections []domain.ManualSelection) (domain.SubjectInstance, error) {
	si, err := e.Repo.GetSubjectInstance(ctx, subjectInstanceID)
	if err != nil {
		return si, err
	}
	if !si.IsPending() {
		return si, fmt.Errorf("subject instance %d is not awaiting participant selection", subjectInstanceID)
	}
	rels, err := e.Repo.ListActivityRelationships(ctx, si.ActivityID)
	if err != nil {
		return si, err
	}
	for _, sel := range selections {
		if !domain.IsManualRelationship(sel.Relationship) {
			return si, fmt.Errorf("relationship %q is not manually selectable", sel.Relationship)
		}
		if sel.UserID == "" && sel.ExternalEmail == "" {
			return si, errors.New("selection needs a user id or an external email")
		}
	}
	snap, err := e.snapshot(ctx)
	if err != nil {
		return si, err
	}

	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return si, err
	}
	defer tx.Rollback()

	for i := range selections {
		selections[i].SubjectInstanceID = si.ID
		selections[i].SelectedByID = selectedByID
		selections[i].CreatedAt = now
		if _, err := e.Repo.InsertManualSelectionTx(ctx, tx, selections[i]); err != nil {
			return si, err
		}
	}
	if _, err := e.createParticipantsTx(ctx, tx, si, rels, snap, selections, nil); err != nil {
		return si, err
	}
	if err := e.Repo.UpdateSubjectStatusTx(ctx, tx, si.ID, domain.SubjectStatusActive); err != nil {
		return si, err
	}
	if err := e.Events.Append(ctx, tx, "subject_instance.activated", si.ActivityID, "subject_instance", fmt.Sprint(si.ID), events.EventPayload{
		"selections": len(selections),
	}); err != nil {
		return si, err
	}
	if err := tx.Commit(); err != nil {
		return si, err
	}
	si.Status = domain.SubjectStatusActive
	e.publish("subject_instance.activated", events.EventPayload{"subject_instance_id": si.ID, "activity_id": si.ActivityID})
	return si, nil
}
