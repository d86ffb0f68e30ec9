//go:build integration

// The journey runs against a live server started with
// VERIFICATION_MODE=header and known admin credentials.
package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func baseURL() string {
	return strings.TrimRight(env("CSAT_TEST_BASE_URL", "http://127.0.0.1:4000"), "/")
}

func TestSurveyJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()

	var health struct {
		OK bool `json:"ok"`
	}
	doJSON(t, client, http.MethodGet, base+"/health", nil, nil, http.StatusOK, &health)
	if !health.OK {
		t.Fatalf("health not ok")
	}

	var questions struct {
		Questions []struct {
			Code string `json:"code"`
		} `json:"questions"`
	}
	doJSON(t, client, http.MethodGet, base+"/questions", nil, nil, http.StatusOK, &questions)
	if len(questions.Questions) == 0 {
		t.Fatalf("catalog is empty")
	}

	email := fmt.Sprintf("integration_%d@example.com", time.Now().UnixNano())
	answers := make([]map[string]any, 0, len(questions.Questions))
	for _, q := range questions.Questions {
		answers = append(answers, map[string]any{"code": q.Code, "relevant": true, "importance": "HIGH", "satisfaction": 5})
	}
	body := map[string]any{"meta": map[string]any{"vessel": "Integration"}, "answers": answers, "remark": "integration run"}

	var submitted struct {
		OK     bool  `json:"ok"`
		ID     int64 `json:"id"`
		Scores struct {
			Overall float64 `json:"overall"`
		} `json:"scores"`
	}
	hdr := map[string]string{"X-Email": email}
	doJSON(t, client, http.MethodPost, base+"/submit", hdr, body, http.StatusOK, &submitted)
	if submitted.ID == 0 || submitted.Scores.Overall != 100 {
		t.Fatalf("unexpected submit response: %+v", submitted)
	}
	doJSON(t, client, http.MethodPost, base+"/submit", hdr, body, http.StatusConflict, nil)

	var login struct {
		Token string `json:"token"`
	}
	doJSON(t, client, http.MethodPost, base+"/admin/login", nil, map[string]string{
		"email":    env("CSAT_TEST_ADMIN_EMAIL", "admin@example.com"),
		"password": env("CSAT_TEST_ADMIN_PASSWORD", "admin"),
	}, http.StatusOK, &login)
	if login.Token == "" {
		t.Fatalf("login did not return token")
	}
	auth := map[string]string{"Authorization": "Bearer " + login.Token}

	var list struct {
		Items []struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		} `json:"items"`
	}
	doJSON(t, client, http.MethodGet, base+"/admin/submissions", auth, nil, http.StatusOK, &list)
	found := false
	for _, it := range list.Items {
		if it.ID == submitted.ID && it.Email == email {
			found = true
		}
	}
	if !found {
		t.Fatalf("submission %d missing from admin list", submitted.ID)
	}

	subURL := fmt.Sprintf("%s/admin/submissions/%d", base, submitted.ID)
	doJSON(t, client, http.MethodGet, subURL, auth, nil, http.StatusOK, nil)
	doJSON(t, client, http.MethodGet, base+"/admin/stats", auth, nil, http.StatusOK, nil)
	doJSON(t, client, http.MethodDelete, subURL, auth, nil, http.StatusOK, nil)
	doJSON(t, client, http.MethodGet, subURL, auth, nil, http.StatusNotFound, nil)
}

func doJSON(t *testing.T, client *http.Client, method, url string, header map[string]string, body any, wantStatus int, out any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http %s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d (want %d) for %s %s: %s", resp.StatusCode, wantStatus, method, url, string(bodyBytes))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response: %v", err)
		}
	}
}
