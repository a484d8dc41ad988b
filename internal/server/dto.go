package server

import (
	"encoding/json"

	"appraise/internal/domain"
)

// Request payloads

type ActivityRelationshipRequest struct {
	Relationship string `json:"relationship" enum:"subject,manager,managers_manager,appraiser,direct_report,peer,mentor,reviewer,external"`
	ViewOnly     bool   `json:"view_only,omitempty"`
}

type CreateActivityRequest struct {
	Name          string                        `json:"name"`
	Relationships []ActivityRelationshipRequest `json:"relationships"`
}

type UpdateActivitySettingsRequest struct {
	OverrideSyncSettings *bool `json:"override_sync_settings,omitempty"`
	SyncCreation         *bool `json:"sync_creation,omitempty"`
	SyncClosure          *bool `json:"sync_closure,omitempty"`
	CloseOnDueDate       *bool `json:"close_on_due_date,omitempty"`
}

type DateOffsetRequest struct {
	Count int    `json:"count"`
	Unit  string `json:"unit" enum:"day,week,month"`
}

type CreateTrackRequest struct {
	ScheduleFixedFrom *string            `json:"schedule_fixed_from,omitempty" format:"date-time"`
	ScheduleFixedTo   *string            `json:"schedule_fixed_to,omitempty" format:"date-time"`
	DueDateMode       string             `json:"due_date_mode,omitempty" enum:"disabled,fixed,relative"`
	DueDateFixed      *string            `json:"due_date_fixed,omitempty" format:"date-time"`
	DueDateOffset     *DateOffsetRequest `json:"due_date_offset,omitempty"`
	RepeatingEnabled  bool               `json:"repeating_enabled,omitempty"`
	RepeatingTrigger  string             `json:"repeating_trigger,omitempty"`
	RepeatingOffset   *DateOffsetRequest `json:"repeating_offset,omitempty"`
	RepeatLimit       *int               `json:"repeat_limit,omitempty"`
	GenerationMode    string             `json:"generation_mode,omitempty" enum:"one_per_subject,one_per_job"`
}

type AssignUserRequest struct {
	SubjectUserID   string  `json:"subject_user_id"`
	JobAssignmentID *string `json:"job_assignment_id,omitempty"`
	PeriodStart     *string `json:"period_start,omitempty" format:"date-time"`
	PeriodEnd       *string `json:"period_end,omitempty" format:"date-time"`
}

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type UpdateUserRequest struct {
	Suspended *bool `json:"suspended,omitempty"`
}

type CreateJobAssignmentRequest struct {
	UserID      string  `json:"user_id"`
	IDNumber    string  `json:"id_number,omitempty"`
	ManagerJAID *string `json:"manager_ja_id,omitempty"`
	AppraiserID *string `json:"appraiser_id,omitempty"`
}

type UpdateJobAssignmentRequest struct {
	ManagerJAID *string `json:"manager_ja_id,omitempty"`
	AppraiserID *string `json:"appraiser_id,omitempty"`
}

type ManualSelectionRequest struct {
	Relationship  string `json:"relationship" enum:"peer,mentor,reviewer,external"`
	UserID        string `json:"user_id,omitempty"`
	ExternalEmail string `json:"external_email,omitempty"`
}

type SetParticipantsRequest struct {
	Selections []ManualSelectionRequest `json:"selections"`
}

type SetProgressRequest struct {
	Progress string `json:"progress" enum:"in_progress,complete"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Response payloads

type ActivityResponse struct {
	ID                   string                        `json:"id"`
	Name                 string                        `json:"name"`
	Status               string                        `json:"status" enum:"draft,active"`
	OverrideSyncSettings bool                          `json:"override_sync_settings"`
	SyncCreation         bool                          `json:"sync_creation"`
	SyncClosure          bool                          `json:"sync_closure"`
	CloseOnDueDate       bool                          `json:"close_on_due_date"`
	AnonymousResponses   bool                          `json:"anonymous_responses"`
	Relationships        []ActivityRelationshipRequest `json:"relationships,omitempty"`
	CreatedAt            string                        `json:"created_at" format:"date-time"`
}

type SubjectInstanceResponse struct {
	ID              int64   `json:"id"`
	ActivityID      string  `json:"activity_id"`
	TrackID         string  `json:"track_id"`
	SubjectUserID   string  `json:"subject_user_id"`
	JobAssignmentID *string `json:"job_assignment_id,omitempty"`
	Status          string  `json:"status" enum:"pending,active"`
	Availability    string  `json:"availability" enum:"open,closed"`
	Progress        string  `json:"progress" enum:"not_started,in_progress,complete,not_submitted"`
	NeedsSync       bool    `json:"needs_sync"`
	DueDate         *string `json:"due_date,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
	ClosedAt        *string `json:"closed_at,omitempty" format:"date-time"`
}

type ParticipantResponse struct {
	ID                int64   `json:"id"`
	SubjectInstanceID int64   `json:"subject_instance_id"`
	ParticipantUserID string  `json:"participant_user_id,omitempty"`
	ExternalEmail     string  `json:"external_email,omitempty"`
	ExternalToken     string  `json:"external_token,omitempty"`
	Relationship      string  `json:"relationship"`
	Source            string  `json:"source" enum:"internal,external"`
	ViewOnly          bool    `json:"view_only"`
	Availability      string  `json:"availability" enum:"open,closed,not_applicable"`
	Progress          string  `json:"progress" enum:"not_started,in_progress,complete,not_submitted,not_applicable"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	ClosedAt          *string `json:"closed_at,omitempty" format:"date-time"`
}

type SubjectInstanceDetailResponse struct {
	SubjectInstanceResponse
	Participants []ParticipantResponse `json:"participants"`
}

// ParticipationResponse is what an external participant sees for their token.
type ParticipationResponse struct {
	ParticipantID int64   `json:"participant_id"`
	ActivityName  string  `json:"activity_name"`
	SubjectName   string  `json:"subject_name"`
	Relationship  string  `json:"relationship"`
	Availability  string  `json:"availability" enum:"open,closed,not_applicable"`
	Progress      string  `json:"progress" enum:"not_started,in_progress,complete,not_submitted,not_applicable"`
	DueDate       *string `json:"due_date,omitempty" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ActivityID string         `json:"activity_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type ActivityStatusResponse struct {
	ActivityID     string         `json:"activity_id"`
	Status         string         `json:"status"`
	InstanceCounts map[string]int `json:"instance_counts"`
	Participants   map[string]int `json:"participants_by_relationship"`
}

type JobRunResponse struct {
	Created  int `json:"created,omitempty"`
	Skipped  int `json:"skipped,omitempty"`
	Synced   int `json:"synced,omitempty"`
	Added    int `json:"added,omitempty"`
	Reopened int `json:"reopened,omitempty"`
	Closed   int `json:"closed,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type paginatedSubjectInstances struct {
	Items      []SubjectInstanceResponse `json:"items"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func activityResponse(a domain.Activity, rels []domain.ActivityRelationship) ActivityResponse {
	res := ActivityResponse{
		ID:                   a.ID,
		Name:                 a.Name,
		Status:               a.Status,
		OverrideSyncSettings: a.OverrideSyncSettings,
		SyncCreation:         a.SyncCreation,
		SyncClosure:          a.SyncClosure,
		CloseOnDueDate:       a.CloseOnDueDate,
		AnonymousResponses:   a.AnonymousResponses,
		CreatedAt:            a.CreatedAt,
	}
	for _, rel := range rels {
		res.Relationships = append(res.Relationships, ActivityRelationshipRequest{
			Relationship: rel.Relationship,
			ViewOnly:     rel.ViewOnly,
		})
	}
	return res
}

func subjectInstanceResponse(si domain.SubjectInstance) SubjectInstanceResponse {
	return SubjectInstanceResponse{
		ID:              si.ID,
		ActivityID:      si.ActivityID,
		TrackID:         si.TrackID,
		SubjectUserID:   si.SubjectUserID,
		JobAssignmentID: si.JobAssignmentID,
		Status:          si.Status,
		Availability:    si.Availability,
		Progress:        si.Progress,
		NeedsSync:       si.NeedsSync,
		DueDate:         si.DueDate,
		CreatedAt:       si.CreatedAt,
		CompletedAt:     si.CompletedAt,
		ClosedAt:        si.ClosedAt,
	}
}

func participantResponse(p domain.ParticipantInstance) ParticipantResponse {
	return ParticipantResponse{
		ID:                p.ID,
		SubjectInstanceID: p.SubjectInstanceID,
		ParticipantUserID: p.ParticipantUserID,
		ExternalEmail:     p.ExternalEmail,
		ExternalToken:     p.ExternalToken,
		Relationship:      p.Relationship,
		Source:            p.Source,
		ViewOnly:          p.IsViewOnly(),
		Availability:      p.Availability,
		Progress:          p.Progress,
		CreatedAt:         p.CreatedAt,
		ClosedAt:          p.ClosedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ActivityID: e.ActivityID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapSubjectInstances(items []domain.SubjectInstance) []SubjectInstanceResponse {
	res := make([]SubjectInstanceResponse, 0, len(items))
	for _, si := range items {
		res = append(res, subjectInstanceResponse(si))
	}
	return res
}

func mapParticipants(items []domain.ParticipantInstance) []ParticipantResponse {
	res := make([]ParticipantResponse, 0, len(items))
	for _, p := range items {
		res = append(res, participantResponse(p))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func relationshipsFromRequest(in []ActivityRelationshipRequest) []domain.ActivityRelationship {
	out := make([]domain.ActivityRelationship, 0, len(in))
	for _, rel := range in {
		out = append(out, domain.ActivityRelationship{
			Relationship: rel.Relationship,
			ViewOnly:     rel.ViewOnly,
		})
	}
	return out
}

func offsetFromRequest(in *DateOffsetRequest) *domain.DateOffset {
	if in == nil {
		return nil
	}
	return &domain.DateOffset{Count: in.Count, Unit: in.Unit}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
