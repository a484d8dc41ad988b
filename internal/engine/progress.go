package engine

import (
	"context"
	"database/sql"
	"fmt"

	"appraise/internal/domain"
	"appraise/internal/events"
)

// SetParticipantProgress records a participant moving to in_progress or
// complete and recomputes the subject instance's aggregate progress.
func (e Engine) SetParticipantProgress(ctx context.Context, participantID int64, progress string) (domain.ParticipantInstance, error) {
	pi, err := e.Repo.GetParticipant(ctx, participantID)
	if err != nil {
		return pi, err
	}
	switch progress {
	case domain.ProgressInProgress, domain.ProgressComplete:
	default:
		return pi, fmt.Errorf("cannot set participant progress to %q", progress)
	}
	if pi.Availability != domain.AvailabilityOpen {
		return pi, fmt.Errorf("participant instance %d is not open", participantID)
	}
	if pi.Progress == domain.ProgressComplete {
		return pi, fmt.Errorf("participant instance %d is already complete", participantID)
	}
	si, err := e.Repo.GetSubjectInstance(ctx, pi.SubjectInstanceID)
	if err != nil {
		return pi, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return pi, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateParticipantProgressTx(ctx, tx, pi.ID, progress); err != nil {
		return pi, err
	}
	pi.Progress = progress
	if progress == domain.ProgressComplete {
		if err := e.Events.Append(ctx, tx, "participant_instance.completed", si.ActivityID, "participant_instance", fmt.Sprint(pi.ID), events.EventPayload{
			"subject_instance_id": si.ID,
		}); err != nil {
			return pi, err
		}
	}
	if _, err := e.recomputeSubjectProgressTx(ctx, tx, si); err != nil {
		return pi, err
	}
	if err := tx.Commit(); err != nil {
		return pi, err
	}
	if progress == domain.ProgressComplete {
		e.publish("participant_instance.completed", events.EventPayload{
			"participant_instance_id": pi.ID,
			"subject_instance_id":     si.ID,
			"activity_id":             si.ActivityID,
		})
	}
	return pi, nil
}

// recomputeSubjectProgressTx derives the subject's progress from its
// answerable participants: complete when all are, in_progress when any
// moved, not_started otherwise. Participants closed out without an answer no
// longer count towards the denominator. The completion timestamp is set the
// first time complete is reached and never cleared by recomputation.
func (e Engine) recomputeSubjectProgressTx(ctx context.Context, tx *sql.Tx, si domain.SubjectInstance) (string, error) {
	participants, err := e.Repo.ListParticipantsTx(ctx, tx, si.ID)
	if err != nil {
		return si.Progress, err
	}
	answerable := 0
	complete := 0
	moved := 0
	for _, pi := range participants {
		if !pi.IsAnswerable() {
			continue
		}
		if pi.Availability == domain.AvailabilityClosed && pi.Progress != domain.ProgressComplete {
			continue
		}
		answerable++
		switch pi.Progress {
		case domain.ProgressComplete:
			complete++
			moved++
		case domain.ProgressInProgress:
			moved++
		}
	}

	progress := domain.ProgressNotStarted
	switch {
	case answerable > 0 && complete == answerable:
		progress = domain.ProgressComplete
	case moved > 0:
		progress = domain.ProgressInProgress
	}

	completedAt := si.CompletedAt
	if progress == domain.ProgressComplete && completedAt == nil {
		now := e.nowString()
		completedAt = &now
	}
	if progress == si.Progress && equalTimePtr(completedAt, si.CompletedAt) {
		return progress, nil
	}
	if err := e.Repo.UpdateSubjectProgressTx(ctx, tx, si.ID, progress, completedAt); err != nil {
		return si.Progress, err
	}
	if progress == domain.ProgressComplete && si.Progress != domain.ProgressComplete {
		if err := e.Events.Append(ctx, tx, "subject_instance.completed", si.ActivityID, "subject_instance", fmt.Sprint(si.ID), events.EventPayload{
			"subject_user_id": si.SubjectUserID,
		}); err != nil {
			return progress, err
		}
	}
	return progress, nil
}

func equalTimePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
