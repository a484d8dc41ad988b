package domain

// Activity statuses.
const (
	ActivityDraft  = "draft"
	ActivityActive = "active"
)

// Subject instance status (pending means manual participant selection is outstanding).
const (
	SubjectStatusPending = "pending"
	SubjectStatusActive  = "active"
)

// Availability values. NotApplicable is used for view-only participants.
const (
	AvailabilityOpen          = "open"
	AvailabilityClosed        = "closed"
	AvailabilityNotApplicable = "not_applicable"
)

// Progress values.
const (
	ProgressNotStarted    = "not_started"
	ProgressInProgress    = "in_progress"
	ProgressComplete      = "complete"
	ProgressNotSubmitted  = "not_submitted"
	ProgressNotApplicable = "not_applicable"
)

// Relationship types. The first five are derived from the job-assignment
// graph; the rest are manual selections scoped to a subject instance.
const (
	RelationshipSubject         = "subject"
	RelationshipManager         = "manager"
	RelationshipManagersManager = "managers_manager"
	RelationshipDirectReport    = "direct_report"
	RelationshipAppraiser       = "appraiser"
	RelationshipPeer            = "peer"
	RelationshipMentor          = "mentor"
	RelationshipReviewer        = "reviewer"
	RelationshipExternal        = "external"
)

// IsManualRelationship reports whether participants for the relationship are
// picked by hand rather than derived from the job-assignment graph.
func IsManualRelationship(relationship string) bool {
	switch relationship {
	case RelationshipPeer, RelationshipMentor, RelationshipReviewer, RelationshipExternal:
		return true
	}
	return false
}

// IsValidRelationship reports whether the relationship type is known.
func IsValidRelationship(relationship string) bool {
	switch relationship {
	case RelationshipSubject, RelationshipManager, RelationshipManagersManager,
		RelationshipDirectReport, RelationshipAppraiser,
		RelationshipPeer, RelationshipMentor, RelationshipReviewer, RelationshipExternal:
		return true
	}
	return false
}

// Participant sources.
const (
	SourceInternal = "internal"
	SourceExternal = "external"
)

// Due date modes on a track.
const (
	DueDateDisabled = "disabled"
	DueDateFixed    = "fixed"
	DueDateRelative = "relative"
)

// Subject instance generation modes.
const (
	GenerateOnePerSubject = "one_per_subject"
	GenerateOnePerJob     = "one_per_job"
)

// Repeating trigger types. Compound "_and_" triggers require every condition,
// "_or_" triggers require any.
const (
	TriggerAfterCreation                       = "after_creation"
	TriggerAfterCompletion                     = "after_completion"
	TriggerAfterClosure                        = "after_closure"
	TriggerAfterCreationAndCompletion          = "after_creation_and_completion"
	TriggerAfterCreationAndClosure             = "after_creation_and_closure"
	TriggerAfterCompletionOrClosure            = "after_completion_or_closure"
	TriggerAfterCreationAndCompletionOrClosure = "after_creation_and_completion_or_closure"
)

// Track statuses.
const (
	TrackActive = "active"
	TrackPaused = "paused"
)

// Offset units for schedule and due date offsets.
const (
	UnitDay   = "day"
	UnitWeek  = "week"
	UnitMonth = "month"
)

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Suspended bool   `json:"suspended"`
	Deleted   bool   `json:"deleted"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// JobAssignment is one edge bundle in the org graph. ManagerJAID points at the
// manager's own job assignment, not at the manager user; the distinction is
// what makes the manager's-manager chain follow one specific edge.
type JobAssignment struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	IDNumber    string  `json:"idnumber,omitempty"`
	ManagerJAID *string `json:"manager_ja_id,omitempty"`
	AppraiserID *string `json:"appraiser_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Activity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status" enum:"draft,active"`
	// Participation sync settings; global config applies unless override is set.
	OverrideSyncSettings bool   `json:"override_sync_settings"`
	SyncCreation         bool   `json:"sync_creation"`
	SyncClosure          bool   `json:"sync_closure"`
	CloseOnDueDate       bool   `json:"close_on_due_date"`
	AnonymousResponses   bool   `json:"anonymous_responses"`
	CreatedAt            string `json:"created_at" format:"date-time"`
}

// ActivityRelationship is one relationship configured on an activity.
type ActivityRelationship struct {
	ID           string `json:"id"`
	ActivityID   string `json:"activity_id"`
	Relationship string `json:"relationship"`
	ViewOnly     bool   `json:"view_only"`
}

// DateOffset is a relative interval applied to a reference instant.
type DateOffset struct {
	Count int    `json:"count"`
	Unit  string `json:"unit" enum:"day,week,month"`
}

type Track struct {
	ID         string `json:"id"`
	ActivityID string `json:"activity_id"`
	Status     string `json:"status" enum:"active,paused"`

	// Creation window. A nil from with a non-nil to is an invalid combination
	// and suppresses creation; both nil means always open.
	ScheduleFixedFrom *string `json:"schedule_fixed_from,omitempty" format:"date-time"`
	ScheduleFixedTo   *string `json:"schedule_fixed_to,omitempty" format:"date-time"`

	DueDateMode   string      `json:"due_date_mode" enum:"disabled,fixed,relative"`
	DueDateFixed  *string     `json:"due_date_fixed,omitempty" format:"date-time"`
	DueDateOffset *DateOffset `json:"due_date_offset,omitempty"`

	RepeatingEnabled bool        `json:"repeating_enabled"`
	RepeatingTrigger string      `json:"repeating_trigger,omitempty"`
	RepeatingOffset  *DateOffset `json:"repeating_offset,omitempty"`
	RepeatLimit      *int        `json:"repeat_limit,omitempty"`

	GenerationMode    string `json:"generation_mode" enum:"one_per_subject,one_per_job"`
	ScheduleNeedsSync bool   `json:"schedule_needs_sync"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

// TrackUserAssignment is one resolved (track, subject user, job assignment)
// tuple. Deleted assignments stop producing new instances but keep existing
// ones intact.
type TrackUserAssignment struct {
	ID              string  `json:"id"`
	TrackID         string  `json:"track_id"`
	SubjectUserID   string  `json:"subject_user_id"`
	JobAssignmentID *string `json:"job_assignment_id,omitempty"`
	PeriodStart     *string `json:"period_start,omitempty" format:"date-time"`
	PeriodEnd       *string `json:"period_end,omitempty" format:"date-time"`
	Deleted         bool    `json:"deleted"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type SubjectInstance struct {
	ID                    int64   `json:"id"`
	TrackUserAssignmentID string  `json:"track_user_assignment_id"`
	TrackID               string  `json:"track_id"`
	ActivityID            string  `json:"activity_id"`
	SubjectUserID         string  `json:"subject_user_id"`
	JobAssignmentID       *string `json:"job_assignment_id,omitempty"`
	Status                string  `json:"status" enum:"pending,active"`
	Availability          string  `json:"availability" enum:"open,closed"`
	Progress              string  `json:"progress" enum:"not_started,in_progress,complete,not_submitted"`
	NeedsSync             bool    `json:"needs_sync"`
	DueDate               *string `json:"due_date,omitempty" format:"date-time"`
	CreatedAt             string  `json:"created_at" format:"date-time"`
	CompletedAt           *string `json:"completed_at,omitempty" format:"date-time"`
	ClosedAt              *string `json:"closed_at,omitempty" format:"date-time"`
}

// IsOpen reports whether the subject instance can still be acted on.
func (s SubjectInstance) IsOpen() bool { return s.Availability == AvailabilityOpen }

// IsPending reports whether manual participant selection is outstanding.
func (s SubjectInstance) IsPending() bool { return s.Status == SubjectStatusPending }

type ParticipantInstance struct {
	ID                int64   `json:"id"`
	SubjectInstanceID int64   `json:"subject_instance_id"`
	ParticipantUserID string  `json:"participant_user_id,omitempty"`
	ExternalEmail     string  `json:"external_email,omitempty"`
	ExternalToken     string  `json:"external_token,omitempty"`
	Relationship      string  `json:"relationship"`
	Source            string  `json:"participant_source" enum:"internal,external"`
	Availability      string  `json:"availability" enum:"open,closed,not_applicable"`
	Progress          string  `json:"progress" enum:"not_started,in_progress,complete,not_submitted,not_applicable"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	ClosedAt          *string `json:"closed_at,omitempty" format:"date-time"`
}

// IsViewOnly reports whether the participant observes without answering.
func (p ParticipantInstance) IsViewOnly() bool { return p.Availability == AvailabilityNotApplicable }

// IsAnswerable reports whether the participant counts towards subject progress.
func (p ParticipantInstance) IsAnswerable() bool { return !p.IsViewOnly() }

// ManualSelection is a hand-picked participant for a manual relationship on a
// pending subject instance.
type ManualSelection struct {
	ID                int64  `json:"id"`
	SubjectInstanceID int64  `json:"subject_instance_id"`
	Relationship      string `json:"relationship"`
	UserID            string `json:"user_id,omitempty"`
	ExternalEmail     string `json:"external_email,omitempty"`
	SelectedByID      string `json:"selected_by_id"`
	CreatedAt         string `json:"created_at" format:"date-time"`
}

// APIKey authenticates server requests as a user. Only the hash of the key
// is stored.
type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ActivityID string `json:"activity_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
