package appraisesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Appraise HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Suspended bool   `json:"suspended"`
}

// Activity represents the API activity model (partial).
type Activity struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	CloseOnDueDate bool   `json:"close_on_due_date"`
}

// Relationship configures one relationship on a new activity.
type Relationship struct {
	Relationship string `json:"relationship"`
	ViewOnly     bool   `json:"view_only,omitempty"`
}

// Track represents the API track model (partial).
type Track struct {
	ID         string `json:"id"`
	ActivityID string `json:"activity_id"`
	Status     string `json:"status"`
}

// SubjectInstance represents one run of an activity about a subject.
type SubjectInstance struct {
	ID            int64   `json:"id"`
	ActivityID    string  `json:"activity_id"`
	TrackID       string  `json:"track_id"`
	SubjectUserID string  `json:"subject_user_id"`
	Status        string  `json:"status"`
	Availability  string  `json:"availability"`
	Progress      string  `json:"progress"`
	DueDate       *string `json:"due_date,omitempty"`
}

// Participant represents one participant on a subject instance.
type Participant struct {
	ID                int64  `json:"id"`
	SubjectInstanceID int64  `json:"subject_instance_id"`
	ParticipantUserID string `json:"participant_user_id,omitempty"`
	ExternalEmail     string `json:"external_email,omitempty"`
	ExternalToken     string `json:"external_token,omitempty"`
	Relationship      string `json:"relationship"`
	Availability      string `json:"availability"`
	Progress          string `json:"progress"`
}

// SubjectInstanceDetail is an instance with its participants.
type SubjectInstanceDetail struct {
	SubjectInstance
	Participants []Participant `json:"participants"`
}

// Participation is the token-addressed view an external participant sees.
type Participation struct {
	ParticipantID int64   `json:"participant_id"`
	ActivityName  string  `json:"activity_name"`
	SubjectName   string  `json:"subject_name"`
	Relationship  string  `json:"relationship"`
	Availability  string  `json:"availability"`
	Progress      string  `json:"progress"`
	DueDate       *string `json:"due_date,omitempty"`
}

// Selection is a hand-picked participant for a manual relationship.
type Selection struct {
	Relationship  string `json:"relationship"`
	UserID        string `json:"user_id,omitempty"`
	ExternalEmail string `json:"external_email,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ActivityID string         `json:"activity_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// JobRun reports the counters of a background job run.
type JobRun struct {
	Created  int `json:"created,omitempty"`
	Skipped  int `json:"skipped,omitempty"`
	Synced   int `json:"synced,omitempty"`
	Added    int `json:"added,omitempty"`
	Reopened int `json:"reopened,omitempty"`
	Closed   int `json:"closed,omitempty"`
}

// APIKey is a minted key; Key is only present in the create response.
type APIKey struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Key    string `json:"key,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedSubjectInstances wraps instance listings with cursors.
type PaginatedSubjectInstances struct {
	Items      []SubjectInstance `json:"items"`
	NextCursor string            `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateUser creates a user.
func (c *Client) CreateUser(ctx context.Context, name, email string) (User, error) {
	body := map[string]any{"name": name, "email": email}
	var resp User
	err := c.do(ctx, http.MethodPost, "v1/users", body, &resp)
	return resp, err
}

// CreateActivity creates a draft activity.
func (c *Client) CreateActivity(ctx context.Context, name string, relationships []Relationship) (Activity, error) {
	body := map[string]any{
		"name":          name,
		"relationships": relationships,
	}
	var resp Activity
	err := c.do(ctx, http.MethodPost, "v1/activities", body, &resp)
	return resp, err
}

// ActivateActivity moves a draft activity to active.
func (c *Client) ActivateActivity(ctx context.Context, id string) (Activity, error) {
	var resp Activity
	endpoint := fmt.Sprintf("v1/activities/%s/activate", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CreateTrack creates a track on an activity. The body takes the same
// fields as the API track schema.
func (c *Client) CreateTrack(ctx context.Context, activityID string, body map[string]any) (Track, error) {
	var resp Track
	endpoint := fmt.Sprintf("v1/activities/%s/tracks", url.PathEscape(activityID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AssignUser places a subject user on a track.
func (c *Client) AssignUser(ctx context.Context, trackID, subjectUserID string) error {
	body := map[string]any{"subject_user_id": subjectUserID}
	endpoint := fmt.Sprintf("v1/tracks/%s/assignments", url.PathEscape(trackID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// GenerateInstances runs the instance creation job.
func (c *Client) GenerateInstances(ctx context.Context) (JobRun, error) {
	var resp JobRun
	err := c.do(ctx, http.MethodPost, "v1/jobs/generate", nil, &resp)
	return resp, err
}

// SyncInstances runs the participant sync job.
func (c *Client) SyncInstances(ctx context.Context) (JobRun, error) {
	var resp JobRun
	err := c.do(ctx, http.MethodPost, "v1/jobs/sync", nil, &resp)
	return resp, err
}

// SubjectInstances returns one page of subject instances.
func (c *Client) SubjectInstances(ctx context.Context, limit int, cursor string) (PaginatedSubjectInstances, error) {
	endpoint := "v1/subject-instances"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedSubjectInstances
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetSubjectInstance fetches one instance with its participants.
func (c *Client) GetSubjectInstance(ctx context.Context, id int64) (SubjectInstanceDetail, error) {
	var resp SubjectInstanceDetail
	endpoint := fmt.Sprintf("v1/subject-instances/%d", id)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CloseSubjectInstance closes an instance. force also closes instances that
// are still awaiting participant selection.
func (c *Client) CloseSubjectInstance(ctx context.Context, id int64, force bool) (SubjectInstance, error) {
	endpoint := fmt.Sprintf("v1/subject-instances/%d/close", id)
	if force {
		endpoint += "?force=true"
	}
	var resp SubjectInstance
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// OpenSubjectInstance reopens a closed instance.
func (c *Client) OpenSubjectInstance(ctx context.Context, id int64) (SubjectInstance, error) {
	var resp SubjectInstance
	endpoint := fmt.Sprintf("v1/subject-instances/%d/open", id)
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SetParticipants selects manual participants for a pending instance.
func (c *Client) SetParticipants(ctx context.Context, id int64, selections []Selection) (SubjectInstance, error) {
	body := map[string]any{"selections": selections}
	var resp SubjectInstance
	endpoint := fmt.Sprintf("v1/subject-instances/%d/participants", id)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetParticipantProgress sets a participant's progress.
func (c *Client) SetParticipantProgress(ctx context.Context, participantID int64, progress string) (Participant, error) {
	body := map[string]any{"progress": progress}
	var resp Participant
	endpoint := fmt.Sprintf("v1/participant-instances/%d/progress", participantID)
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// Participation returns the token-addressed participation view. The token
// itself authenticates the request.
func (c *Client) Participation(ctx context.Context, token string) (Participation, error) {
	var resp Participation
	endpoint := fmt.Sprintf("v1/participation/%s", url.PathEscape(token))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetParticipationProgress sets progress through a participation token.
func (c *Client) SetParticipationProgress(ctx context.Context, token, progress string) (Participation, error) {
	body := map[string]any{"progress": progress}
	var resp Participation
	endpoint := fmt.Sprintf("v1/participation/%s/progress", url.PathEscape(token))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateAPIKey mints an API key for a user. The raw key is only returned
// here, never again.
func (c *Client) CreateAPIKey(ctx context.Context, userID, name string) (APIKey, error) {
	body := map[string]any{"user_id": userID, "name": name}
	var resp APIKey
	err := c.do(ctx, http.MethodPost, "v1/api-keys", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
