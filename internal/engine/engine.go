package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"appraise/internal/config"
	"appraise/internal/domain"
	"appraise/internal/events"
	"appraise/internal/graph"
	"appraise/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Publisher events.Publisher
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Publisher: events.NoopPublisher{},
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// publish forwards a committed event to the external broker. Broker failures
// do not undo committed state; the events table stays authoritative.
func (e Engine) publish(evtType string, payload events.EventPayload) {
	if e.Publisher == nil {
		return
	}
	_ = e.Publisher.Publish(evtType, payload)
}

// settings resolves the effective sync settings for an activity.
func (e Engine) settings(a domain.Activity) config.SyncSettings {
	if e.Config == nil {
		return config.SyncSettings{Creation: a.SyncCreation && a.OverrideSyncSettings, Closure: a.SyncClosure && a.OverrideSyncSettings}
	}
	return e.Config.Resolve(a.OverrideSyncSettings, a.SyncCreation, a.SyncClosure)
}

// snapshot loads the full job assignment graph.
func (e Engine) snapshot(ctx context.Context) (*graph.Snapshot, error) {
	assignments, err := e.Repo.ListJobAssignments(ctx, "")
	if err != nil {
		return nil, err
	}
	return graph.NewSnapshot(assignments), nil
}

// BatchError aggregates per-entity failures of a batch run. A batch with a
// BatchError still committed the work that succeeded.
type BatchError struct {
	Errs []error
}

func (b *BatchError) Error() string {
	parts := make([]string, 0, len(b.Errs))
	for _, err := range b.Errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%d entities failed: %s", len(b.Errs), strings.Join(parts, "; "))
}

func (b *BatchError) add(err error) {
	b.Errs = append(b.Errs, err)
}

func (b *BatchError) orNil() error {
	if len(b.Errs) == 0 {
		return nil
	}
	return b
}

// CreateActivity registers an activity in draft status.
func (e Engine) CreateActivity(ctx context.Context, name string, relationships []domain.ActivityRelationship) (domain.Activity, error) {
	if name == "" {
		return domain.Activity{}, errors.New("name is required")
	}
	a := domain.Activity{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    domain.ActivityDraft,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertActivity(ctx, a); err != nil {
		return domain.Activity{}, err
	}
	for _, rel := range relationships {
		if !domain.IsValidRelationship(rel.Relationship) {
			return domain.Activity{}, fmt.Errorf("unknown relationship %q", rel.Relationship)
		}
		rel.ID = uuid.New().String()
		rel.ActivityID = a.ID
		if err := e.Repo.InsertActivityRelationship(ctx, rel); err != nil {
			return domain.Activity{}, err
		}
	}
	return a, nil
}

// ActivateActivity moves a draft activity to active.
func (e Engine) ActivateActivity(ctx context.Context, id string) (domain.Activity, error) {
	a, err := e.Repo.GetActivity(ctx, id)
	if err != nil {
		return a, err
	}
	if a.Status == domain.ActivityActive {
		return a, nil
	}
	if err := e.Repo.UpdateActivityStatus(ctx, id, domain.ActivityActive); err != nil {
		return a, err
	}
	a.Status = domain.ActivityActive
	return a, nil
}

// CreateTrack attaches a track to an activity. Validation is structural;
// timing rules are evaluated at generation time.
func (e Engine) CreateTrack(ctx context.Context, t domain.Track) (domain.Track, error) {
	if _, err := e.Repo.GetActivity(ctx, t.ActivityID); err != nil {
		return t, err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = domain.TrackActive
	}
	if t.DueDateMode == "" {
		t.DueDateMode = domain.DueDateDisabled
	}
	if t.GenerationMode == "" {
		t.GenerationMode = domain.GenerateOnePerSubject
	}
	if t.RepeatingEnabled {
		switch t.RepeatingTrigger {
		case domain.TriggerAfterCreation, domain.TriggerAfterCompletion, domain.TriggerAfterClosure,
			domain.TriggerAfterCreationAndCompletion, domain.TriggerAfterCreationAndClosure,
			domain.TriggerAfterCompletionOrClosure, domain.TriggerAfterCreationAndCompletionOrClosure:
		default:
			return t, fmt.Errorf("unknown repeating trigger %q", t.RepeatingTrigger)
		}
		if t.RepeatingOffset == nil {
			return t, errors.New("repeating offset is required when repeating is enabled")
		}
	}
	now := e.nowString()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := e.Repo.InsertTrack(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// UpdateTrack replaces a track's schedule settings.
func (e Engine) UpdateTrack(ctx context.Context, t domain.Track) (domain.Track, error) {
	if _, err := e.Repo.GetTrack(ctx, t.ID); err != nil {
		return t, err
	}
	t.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateTrack(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// AssignUser puts a user on a track. The track's generation mode bounds the
// assignment set: one_per_subject allows a single live assignment per subject
// user, one_per_job allows one per job assignment and requires one.
func (e Engine) AssignUser(ctx context.Context, trackID, subjectUserID string, jobAssignmentID *string, periodStart, periodEnd *string) (domain.TrackUserAssignment, error) {
	var a domain.TrackUserAssignment
	track, err := e.Repo.GetTrack(ctx, trackID)
	if err != nil {
		return a, err
	}
	if _, err := e.Repo.GetUser(ctx, subjectUserID); err != nil {
		return a, err
	}
	if track.GenerationMode == domain.GenerateOnePerJob && jobAssignmentID == nil {
		return a, fmt.Errorf("track %s generates one instance per job assignment; a job assignment is required", trackID)
	}
	if jobAssignmentID != nil {
		ja, err := e.Repo.GetJobAssignment(ctx, *jobAssignmentID)
		if err != nil {
			return a, err
		}
		if ja.UserID != subjectUserID {
			return a, fmt.Errorf("job assignment %s does not belong to user %s", *jobAssignmentID, subjectUserID)
		}
	}
	existing, err := e.Repo.ListAssignments(ctx, trackID, false)
	if err != nil {
		return a, err
	}
	for _, prev := range existing {
		if prev.SubjectUserID != subjectUserID {
			continue
		}
		if track.GenerationMode == domain.GenerateOnePerSubject {
			return a, fmt.Errorf("user %s is already assigned to track %s", subjectUserID, trackID)
		}
		if jobAssignmentID != nil && prev.JobAssignmentID != nil && *prev.JobAssignmentID == *jobAssignmentID {
			return a, fmt.Errorf("job assignment %s is already assigned to track %s", *jobAssignmentID, trackID)
		}
	}
	a = domain.TrackUserAssignment{
		ID:              uuid.New().String(),
		TrackID:         trackID,
		SubjectUserID:   subjectUserID,
		JobAssignmentID: jobAssignmentID,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		CreatedAt:       e.nowString(),
	}
	if err := e.Repo.InsertAssignment(ctx, a); err != nil {
		return a, err
	}
	return a, nil
}

// UnassignUser soft-deletes an assignment. Existing instances are untouched.
func (e Engine) UnassignUser(ctx context.Context, assignmentID string) error {
	return e.Repo.SetAssignmentDeleted(ctx, assignmentID, true)
}
