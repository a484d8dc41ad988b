package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"appraise/internal/app"
	"appraise/internal/server"
)

// Quick end-to-end smoke run against an in-process server: create a user and
// an activity over HTTP and print the responses.
func main() {
	workspace, err := os.MkdirTemp("", "appraise-check")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(workspace)
	appCtx, err := app.Open(workspace)
	if err != nil {
		panic(err)
	}
	defer appCtx.Close()

	jwtSecret := "test-secret"
	h, err := server.New(server.Config{Engine: appCtx.Engine, BasePath: "/v1", Auth: server.AuthConfig{JWTSecret: jwtSecret}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()
	token := signToken(jwtSecret, "tester")

	call(ts.URL, token, "/v1/users", map[string]any{"name": "Alice", "email": "alice@example.com"})
	call(ts.URL, token, "/v1/activities", map[string]any{
		"name": "Mid-year review",
		"relationships": []map[string]any{
			{"relationship": "subject"},
			{"relationship": "manager"},
		},
	})
}

func call(baseURL, token, path string, body map[string]any) {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var resp any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	fmt.Printf("%s status=%d resp=%v\n", path, res.StatusCode, resp)
}

func signToken(secret, userID string) string {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}
