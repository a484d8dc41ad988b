package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"appraise/internal/config"
	"appraise/internal/db"
	"appraise/internal/domain"
	"appraise/internal/engine"
	"appraise/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func authHeader(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := signToken(testSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must be open, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/activities", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/activities", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	admin, err := srv.Engine.CreateUser(context.Background(), "admin", "admin@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/activities", nil, authHeader(t, admin.ID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	admin, err := srv.Engine.CreateUser(ctx, "admin", "admin@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	raw, _, err := srv.Engine.CreateAPIKey(ctx, admin.ID, "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/users", nil, map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with api key, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users", nil, map[string]string{"X-Api-Key": "bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown api key, got %d", res.StatusCode)
	}
}

func TestGenerateAndCloseOverAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	admin, err := srv.Engine.CreateUser(ctx, "admin", "admin@example.com")
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	headers := authHeader(t, admin.ID)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/users", map[string]any{"name": "alice"}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user: %d %s", res.StatusCode, string(data))
	}
	var alice domain.User
	if err := json.Unmarshal(data, &alice); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/activities", map[string]any{
		"name":          "annual review",
		"relationships": []map[string]any{{"relationship": "subject"}},
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create activity: %d %s", res.StatusCode, string(data))
	}
	var activity ActivityResponse
	if err := json.Unmarshal(data, &activity); err != nil {
		t.Fatalf("unmarshal activity: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/activities/"+activity.ID+"/activate", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activate: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/activities/"+activity.ID+"/tracks", map[string]any{}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create track: %d %s", res.StatusCode, string(data))
	}
	var track domain.Track
	if err := json.Unmarshal(data, &track); err != nil {
		t.Fatalf("unmarshal track: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tracks/"+track.ID+"/assignments", map[string]any{
		"subject_user_id": alice.ID,
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/generate", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("generate: %d %s", res.StatusCode, string(data))
	}
	var run JobRunResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Created != 1 {
		t.Fatalf("expected 1 created, got %+v", run)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/subject-instances?activity_id="+activity.ID, nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list instances: %d %s", res.StatusCode, string(data))
	}
	var page paginatedSubjectInstances
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(page.Items))
	}
	id := page.Items[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/subject-instances/"+itoa(id)+"/close", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close: %d %s", res.StatusCode, string(data))
	}
	var closed SubjectInstanceResponse
	if err := json.Unmarshal(data, &closed); err != nil {
		t.Fatalf("unmarshal closed: %v", err)
	}
	if closed.Availability != domain.AvailabilityClosed {
		t.Fatalf("expected closed, got %s", closed.Availability)
	}

	// closing again conflicts
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/subject-instances/"+itoa(id)+"/close", nil, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 closing closed instance, got %d", res.StatusCode)
	}
}

func TestExternalParticipationByToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()
	eng := srv.Engine

	admin, err := eng.CreateUser(ctx, "admin", "admin@example.com")
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	alice, err := eng.CreateUser(ctx, "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	activity, err := eng.CreateActivity(ctx, "360 feedback", []domain.ActivityRelationship{
		{Relationship: domain.RelationshipSubject},
		{Relationship: domain.RelationshipExternal},
	})
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	if _, err := eng.ActivateActivity(ctx, activity.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	track, err := eng.CreateTrack(ctx, domain.Track{ActivityID: activity.ID})
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	if _, err := eng.AssignUser(ctx, track.ID, alice.ID, nil, nil, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := eng.GenerateInstances(ctx); err != nil {
		t.Fatalf("generate: %v", err)
	}

	headers := authHeader(t, admin.ID)
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/subject-instances?activity_id="+activity.ID, nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var page paginatedSubjectInstances
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 || page.Items[0].Status != domain.SubjectStatusPending {
		t.Fatalf("expected one pending instance, got %+v", page.Items)
	}
	id := page.Items[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/subject-instances/"+itoa(id)+"/participants", map[string]any{
		"selections": []map[string]any{
			{"relationship": "external", "external_email": "ext@example.org"},
		},
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set participants: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/subject-instances/"+itoa(id), nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get detail: %d %s", res.StatusCode, string(data))
	}
	var detail SubjectInstanceDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	var token string
	for _, p := range detail.Participants {
		if p.Source == domain.SourceExternal {
			token = p.ExternalToken
		}
	}
	if token == "" {
		t.Fatalf("external participant must carry a token: %+v", detail.Participants)
	}

	// token endpoints need no credentials
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/participation/"+token, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("participation lookup: %d %s", res.StatusCode, string(data))
	}
	var view ParticipationResponse
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.ActivityName != "360 feedback" || view.SubjectName != "alice" {
		t.Fatalf("unexpected participation view: %+v", view)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/participation/"+token+"/progress", map[string]any{
		"progress": domain.ProgressComplete,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set progress: %d %s", res.StatusCode, string(data))
	}
	var p ParticipantResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal participant: %v", err)
	}
	if p.Progress != domain.ProgressComplete {
		t.Fatalf("expected complete, got %s", p.Progress)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/participation/unknown-token", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", res.StatusCode)
	}
}

func TestParticipantViewOnlyFlag(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()
	eng := srv.Engine

	admin, err := eng.CreateUser(ctx, "admin", "admin@example.com")
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	alice, err := eng.CreateUser(ctx, "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := eng.CreateUser(ctx, "bob", "bob@example.com")
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}
	bobJA, err := eng.CreateJobAssignment(ctx, domain.JobAssignment{UserID: bob.ID})
	if err != nil {
		t.Fatalf("bob ja: %v", err)
	}
	if _, err := eng.CreateJobAssignment(ctx, domain.JobAssignment{UserID: alice.ID, ManagerJAID: &bobJA.ID}); err != nil {
		t.Fatalf("alice ja: %v", err)
	}
	activity, err := eng.CreateActivity(ctx, "calibration", []domain.ActivityRelationship{
		{Relationship: domain.RelationshipSubject},
		{Relationship: domain.RelationshipManager, ViewOnly: true},
	})
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	if _, err := eng.ActivateActivity(ctx, activity.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	track, err := eng.CreateTrack(ctx, domain.Track{ActivityID: activity.ID})
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	if _, err := eng.AssignUser(ctx, track.ID, alice.ID, nil, nil, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := eng.GenerateInstances(ctx); err != nil {
		t.Fatalf("generate: %v", err)
	}

	headers := authHeader(t, admin.ID)
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/subject-instances?activity_id="+activity.ID, nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var page paginatedSubjectInstances
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 {
		t.Fatalf("expected one instance, got %d", len(page.Items))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/subject-instances/"+itoa(page.Items[0].ID), nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detail: %d %s", res.StatusCode, string(data))
	}
	var detail SubjectInstanceDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if len(detail.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %+v", detail.Participants)
	}
	for _, p := range detail.Participants {
		switch p.Relationship {
		case domain.RelationshipSubject:
			if p.ViewOnly {
				t.Fatalf("subject participant is answerable: %+v", p)
			}
		case domain.RelationshipManager:
			if !p.ViewOnly || p.Availability != domain.AvailabilityNotApplicable {
				t.Fatalf("manager participant must surface as view-only: %+v", p)
			}
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
