package engine

import (
	"context"
	"database/sql"
	"fmt"

	"appraise/internal/domain"
	"appraise/internal/events"
	"appraise/internal/repo"
)

// ManuallyClose closes a subject instance and cascades to its open
// participants. Pending instances refuse to close unless forced, since their
// participant set was never materialized.
func (e Engine) ManuallyClose(ctx context.Context, id int64, force bool) (domain.SubjectInstance, error) {
	si, err := e.Repo.GetSubjectInstance(ctx, id)
	if err != nil {
		return si, err
	}
	if si.Availability == domain.AvailabilityClosed {
		return si, fmt.Errorf("subject instance %d is already closed", id)
	}
	if si.IsPending() && !force {
		return si, fmt.Errorf("subject instance %d is awaiting participant selection; use force to close anyway", id)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return si, err
	}
	defer tx.Rollback()

	si, err = e.closeSubjectTx(ctx, tx, si)
	if err != nil {
		return si, err
	}
	if err := tx.Commit(); err != nil {
		return si, err
	}
	e.publish("subject_instance.closed", events.EventPayload{"subject_instance_id": si.ID, "activity_id": si.ActivityID})
	return si, nil
}

// closeSubjectTx flips the instance and its open participants to closed.
// Incomplete progress becomes not_submitted; view-only participants are left
// alone.
func (e Engine) closeSubjectTx(ctx context.Context, tx *sql.Tx, si domain.SubjectInstance) (domain.SubjectInstance, error) {
	now := e.nowString()

	participants, err := e.Repo.ListParticipantsTx(ctx, tx, si.ID)
	if err != nil {
		return si, err
	}
	for _, pi := range participants {
		if pi.Availability != domain.AvailabilityOpen {
			continue
		}
		if err := e.Repo.UpdateParticipantAvailabilityTx(ctx, tx, pi.ID, domain.AvailabilityClosed, &now); err != nil {
			return si, err
		}
		if pi.Progress != domain.ProgressComplete {
			if err := e.Repo.UpdateParticipantProgressTx(ctx, tx, pi.ID, domain.ProgressNotSubmitted); err != nil {
				return si, err
			}
		}
		if err := e.Events.Append(ctx, tx, "participant_instance.closed", si.ActivityID, "participant_instance", fmt.Sprint(pi.ID), events.EventPayload{
			"subject_instance_id": si.ID,
		}); err != nil {
			return si, err
		}
	}

	if err := e.Repo.UpdateSubjectAvailabilityTx(ctx, tx, si.ID, domain.AvailabilityClosed, &now); err != nil {
		return si, err
	}
	si.Availability = domain.AvailabilityClosed
	si.ClosedAt = &now
	if si.Progress != domain.ProgressComplete {
		if err := e.Repo.UpdateSubjectProgressTx(ctx, tx, si.ID, domain.ProgressNotSubmitted, si.CompletedAt); err != nil {
			return si, err
		}
		si.Progress = domain.ProgressNotSubmitted
	}
	if err := e.Events.Append(ctx, tx, "subject_instance.closed", si.ActivityID, "subject_instance", fmt.Sprint(si.ID), events.EventPayload{
		"subject_user_id": si.SubjectUserID,
	}); err != nil {
		return si, err
	}
	return si, nil
}

// ManuallyOpen reopens a closed subject instance. Closed participants that
// never completed are reopened with it, each with its own reopened event.
func (e Engine) ManuallyOpen(ctx context.Context, id int64) (domain.SubjectInstance, error) {
	si, err := e.Repo.GetSubjectInstance(ctx, id)
	if err != nil {
		return si, err
	}
	if si.Availability != domain.AvailabilityClosed {
		return si, fmt.Errorf("subject instance %d is not closed", id)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return si, err
	}
	defer tx.Rollback()

	participants, err := e.Repo.ListParticipantsTx(ctx, tx, si.ID)
	if err != nil {
		return si, err
	}
	for _, pi := range participants {
		if pi.Availability != domain.AvailabilityClosed || pi.Progress == domain.ProgressComplete {
			continue
		}
		if err := e.Repo.UpdateParticipantAvailabilityTx(ctx, tx, pi.ID, domain.AvailabilityOpen, nil); err != nil {
			return si, err
		}
		if pi.Progress == domain.ProgressNotSubmitted {
			if err := e.Repo.UpdateParticipantProgressTx(ctx, tx, pi.ID, domain.ProgressNotStarted); err != nil {
				return si, err
			}
		}
		if err := e.Events.Append(ctx, tx, "participant_instance.reopened", si.ActivityID, "participant_instance", fmt.Sprint(pi.ID), events.EventPayload{
			"subject_instance_id": si.ID,
		}); err != nil {
			return si, err
		}
	}

	if err := e.Repo.UpdateSubjectAvailabilityTx(ctx, tx, si.ID, domain.AvailabilityOpen, nil); err != nil {
		return si, err
	}
	si.Availability = domain.AvailabilityOpen
	si.ClosedAt = nil
	progress, err := e.recomputeSubjectProgressTx(ctx, tx, si)
	if err != nil {
		return si, err
	}
	si.Progress = progress
	if err := e.Events.Append(ctx, tx, "subject_instance.reopened", si.ActivityID, "subject_instance", fmt.Sprint(si.ID), events.EventPayload{
		"subject_user_id": si.SubjectUserID,
	}); err != nil {
		return si, err
	}
	if err := tx.Commit(); err != nil {
		return si, err
	}
	e.publish("subject_instance.reopened", events.EventPayload{"subject_instance_id": si.ID, "activity_id": si.ActivityID})
	return si, nil
}

// CloseActivityInstances closes every open subject instance of an activity
// in one transaction. A single batched event records the affected set; an
// empty set emits nothing.
func (e Engine) CloseActivityInstances(ctx context.Context, activityID string) (int, error) {
	if _, err := e.Repo.GetActivity(ctx, activityID); err != nil {
		return 0, err
	}
	open, err := e.Repo.ListSubjectInstances(ctx, repo.SubjectInstanceFilters{
		ActivityID:   activityID,
		Availability: domain.AvailabilityOpen,
	})
	if err != nil {
		return 0, err
	}
	if len(open) == 0 {
		return 0, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(open))
	for _, si := range open {
		if _, err := e.closeSubjectTx(ctx, tx, si); err != nil {
			return 0, err
		}
		ids = append(ids, si.ID)
	}
	if err := e.Events.Append(ctx, tx, "subject_instance.bulk_closed", activityID, "activity", activityID, events.EventPayload{
		"subject_instance_ids": ids,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.publish("subject_instance.bulk_closed", events.EventPayload{"activity_id": activityID, "count": len(ids)})
	return len(ids), nil
}

// CloseDueInstances closes open, activated instances whose due date has
// passed, for activities with due-date closure enabled. Pending instances
// are left open even when overdue.
func (e Engine) CloseDueInstances(ctx context.Context) (int, error) {
	due, err := e.Repo.ListDueSubjectInstances(ctx, e.nowString())
	if err != nil {
		return 0, err
	}
	closed := 0
	batch := &BatchError{}
	for _, si := range due {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return closed, err
		}
		if _, err := e.closeSubjectTx(ctx, tx, si); err != nil {
			tx.Rollback()
			batch.add(fmt.Errorf("subject instance %d: %w", si.ID, err))
			continue
		}
		if err := tx.Commit(); err != nil {
			return closed, err
		}
		closed++
		e.publish("subject_instance.closed", events.EventPayload{"subject_instance_id": si.ID, "activity_id": si.ActivityID, "due": true})
	}
	return closed, batch.orNil()
}
