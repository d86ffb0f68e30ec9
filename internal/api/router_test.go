package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/csat/internal/catalog"
	"github.com/soaringjerry/csat/internal/config"
	"github.com/soaringjerry/csat/internal/db"
	"github.com/soaringjerry/csat/internal/mailer"
	"github.com/soaringjerry/csat/internal/middleware"
	"github.com/soaringjerry/csat/internal/models"
	"github.com/soaringjerry/csat/internal/ratelimit"
	"github.com/soaringjerry/csat/internal/services"
	"github.com/soaringjerry/csat/internal/uploads"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "correct horse"
)

type chanSender struct{ ch chan mailer.Message }

func (s chanSender) Send(_ context.Context, msg mailer.Message) error {
	s.ch <- msg
	return nil
}

type testServer struct {
	handler    http.Handler
	conn       interface{ Close() error }
	mail       chan mailer.Message
	uploadsDir string
}

func newTestServer(t *testing.T, mode string) *testServer {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(filepath.Join(dir, "csat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.RunMigrations(conn, ""))
	store, err := db.NewSQLiteStore(conn)
	require.NoError(t, err)

	cat, err := catalog.New([]models.Question{
		{Code: "Q1", Text: "Cargo handling", Section: models.SectionOnboard, ServiceArea: "Cargo"},
		{Code: "Q2", Text: "Invoice accuracy", Section: models.SectionAshore, ServiceArea: "Billing"},
	})
	require.NoError(t, err)
	holder := catalog.NewStaticHolder(cat)

	files, err := uploads.New(filepath.Join(dir, "uploads"), 1024)
	require.NoError(t, err)

	mail := make(chan mailer.Message, 16)
	sender := chanSender{ch: mail}
	gate, err := services.NewGate(mode, store)
	require.NoError(t, err)
	tokens := middleware.NewTokenIssuer("test-secret")

	rt := NewRouter(Deps{
		App:         config.AppConfig{Name: "CSAT API", Commit: "abc123"},
		Catalog:     holder,
		Submissions: services.NewSubmissionService(store, holder, gate, files, nil),
		OTP: services.NewOTPService(store, ratelimit.NewSQLLimiter(store, 5, time.Hour), sender, nil,
			services.OTPOptions{From: "noreply@example.com", Brand: "CSAT"}),
		Auth:           services.NewAuthService(services.AdminCredentials{Email: adminEmail, Password: adminPassword}, tokens.Sign, 0),
		Admin:          services.NewAdminService(store, holder, files, nil),
		Stats:          services.NewStatsService(store, holder),
		Export:         services.NewExportService(store, holder),
		Tokens:         tokens,
		UploadsDir:     files.Dir(),
		MaxUploadBytes: files.MaxBytes(),
	})
	return &testServer{handler: rt.Handler("https://survey.example.com", false), conn: conn, mail: mail, uploadsDir: files.Dir()}
}

func (s *testServer) do(t *testing.T, method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T) map[string]string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/admin/login", map[string]string{"email": adminEmail, "password": adminPassword}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		OK    bool   `json:"ok"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.OK)
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func surveyBody() map[string]any {
	return map[string]any{
		"meta": map[string]any{"vessel": "MV Aurora"},
		"answers": []map[string]any{
			{"code": "Q1", "relevant": true, "importance": "HIGH", "satisfaction": 5},
			{"code": "Q2", "relevant": true, "importance": "LOW", "satisfaction": 1},
		},
		"remark": "thanks",
	}
}

func TestHealthAndQuestions(t *testing.T) {
	s := newTestServer(t, config.VerificationHeader)

	rec := s.do(t, http.MethodGet, "/health?lang=zh", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode(t, rec)
	assert.Equal(t, true, health["ok"])
	assert.Equal(t, "CSAT API", health["name"])
	assert.Equal(t, "abc123", health["commit"])
	assert.Equal(t, "zh", health["locale"])
	assert.NotEmpty(t, health["time"])
	assert.Equal(t, "zh", rec.Header().Get("Content-Language"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	rec = s.do(t, http.MethodGet, "/questions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	qs := decode(t, rec)["questions"].([]any)
	require.Len(t, qs, 2)
	assert.Equal(t, "Q1", qs[0].(map[string]any)["code"])
}

func TestSubmitWithHeaderGate(t *testing.T) {
	s := newTestServer(t, config.VerificationHeader)

	rec := s.do(t, http.MethodPost, "/submit", surveyBody(), map[string]string{"X-Email": "Client@Example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, float64(1), out["id"])
	scores := out["scores"].(map[string]any)
	// 15 + 1 of 20.
	assert.Equal(t, 80.0, scores["overall"])

	rec = s.do(t, http.MethodPost, "/submit", surveyBody(), map[string]string{"X-Email": "client@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/submit", surveyBody(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing X-Email header", decode(t, rec)["error"])

	body := surveyBody()
	body["email"] = "form@example.com"
	rec = s.do(t, http.MethodPost, "/submit", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "body email is the fallback identity")
}

func TestSubmitValidationErrors(t *testing.T) {
	s := newTestServer(t, config.VerificationHeader)
	hdr := map[string]string{"X-Email": "c@example.com"}

	rec := s.do(t, http.MethodPost, "/submit", "{not json", hdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid payload", decode(t, rec)["error"])

	body := surveyBody()
	body["answers"] = []map[string]any{{"code": "Q1", "relevant": true, "importance": "HIGH", "satisfaction": 9}}
	rec = s.do(t, http.MethodPost, "/submit", body, hdr)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	issues := decode(t, rec)["issues"].([]any)
	require.NotEmpty(t, issues)
	assert.Equal(t, "answers[0].satisfaction", issues[0].(map[string]any)["path"])

	body["answers"] = []map[string]any{{"code": "Q2", "relevant": true}}
	rec = s.do(t, http.MethodPost, "/submit", body, hdr)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing importance/satisfaction for Q2", decode(t, rec)["error"])
}

var sixDigits = regexp.MustCompile(`\b\d{6}\b`)

func (s *testServer) nextCode(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-s.mail:
		code := sixDigits.FindString(msg.Text)
		require.NotEmpty(t, code, msg.Text)
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("no otp email dispatched")
		return ""
	}
}

func TestOTPFlowGatesSubmission(t *testing.T) {
	s := newTestServer(t, config.VerificationOTP)
	hdr := map[string]string{"X-Email": "u@example.com"}

	rec := s.do(t, http.MethodPost, "/submit", surveyBody(), hdr)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/otp/send", map[string]string{"email": "U@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["ok"])
	code := s.nextCode(t)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	rec = s.do(t, http.MethodPost, "/otp/verify", map[string]string{"email": "u@example.com", "code": wrong}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/otp/verify", map[string]string{"email": "u@example.com", "code": code}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/submit", surveyBody(), hdr)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestOTPSendRateLimited(t *testing.T) {
	s := newTestServer(t, config.VerificationOTP)
	for i := 0; i < 5; i++ {
		rec := s.do(t, http.MethodPost, "/otp/send", map[string]string{"email": "r@example.com"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		s.nextCode(t)
	}
	rec := s.do(t, http.MethodPost, "/otp/send", map[string]string{"email": "r@example.com"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = s.do(t, http.MethodPost, "/otp/send", map[string]string{"email": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartSubmit(t *testing.T, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	meta, _ := json.Marshal(map[string]any{"vessel": "MV Borealis"})
	answers, _ := json.Marshal(surveyBody()["answers"])
	require.NoError(t, mw.WriteField("meta", string(meta)))
	require.NoError(t, mw.WriteField("answers", string(answers)))
	require.NoError(t, mw.WriteField("remark", "see attachment"))
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestMultipartSubmitAndAdminLifecycle(t *testing.T) {
	s := newTestServer(t, config.VerificationHeader)

	body, ctype := multipartSubmit(t, "damage report.txt", []byte("dented container"))
	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Email", "m@example.com")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/admin/submissions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing token", decode(t, rec)["error"])
	rec = s.do(t, http.MethodGet, "/admin/submissions", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	auth := s.login(t)
	rec = s.do(t, http.MethodGet, "/admin/submissions", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	filePath := item["file_path"].(string)
	assert.True(t, strings.HasPrefix(filePath, "/uploads/"))
	assert.True(t, strings.HasSuffix(filePath, "-damage_report.txt"))
	assert.Equal(t, "see attachment", item["remark"])
	assert.Equal(t, "MV Borealis", item["meta"].(map[string]any)["vessel"])
	assert.NotZero(t, item["created_at"])

	rec = s.do(t, http.MethodGet, filePath, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dented container", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Pragma"))

	rec = s.do(t, http.MethodGet, "/admin/submissions/1", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode(t, rec)
	assert.Len(t, detail["questions"], 2)
	assert.Len(t, detail["answers"], 2)
	assert.Len(t, detail["rows"], 2)

	rec = s.do(t, http.MethodGet, "/admin/submissions/99", nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/admin/submissions/abc", nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/admin/submissions/1", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	del := decode(t, rec)
	assert.Equal(t, filePath, del["file_path"])
	assert.Equal(t, true, del["file_removed"])
	_, err := os.Stat(filepath.Join(s.uploadsDir, path.Base(filePath)))
	assert.True(t, os.IsNotExist(err))

	rec = s.do(t, http.MethodDelete, "/admin/submissions/1", nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMultipartSubmitTooLarge(t *testing.T) {
	s := newTestServer(t, config.VerificationHeader)
	body, ctype := multipartSubmit(t, "big.bin", bytes.Repeat([]byte("x"), 2048))
	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Email", "big@example.com")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())

	entries, err := os.ReadDir(s.uploadsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdminLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t, config.VerificationHeader)
	rec := s.do(t, http.MethodPost, "/admin/login", map[string]string{"email": adminEmail, "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/admin/login", map[string]string{"email": "not-an-email"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminStatsAndExport(t *testing.T) {
	s := newTestServer(t, config.VerificationHeader)
	for _, email := range []string{"a@example.com", "b@example.com"} {
		rec := s.do(t, http.MethodPost, "/submit", surveyBody(), map[string]string{"X-Email": email})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	auth := s.login(t)

	rec := s.do(t, http.MethodGet, "/admin/stats", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Len(t, stats["series"], 2)
	kpis := stats["kpis"].(map[string]any)
	assert.Equal(t, float64(2), kpis["count"])
	assert.Equal(t, 80.0, kpis["avgOverall"])

	rec = s.do(t, http.MethodGet, "/admin/export?format=csv", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(rec.Body.String(), "\uFEFF"))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	rec = s.do(t, http.MethodGet, "/admin/export?format=xlsx", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))

	rec = s.do(t, http.MethodGet, "/admin/export?format=pdf", nil, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	s := newTestServer(t, config.VerificationHeader)
	auth := s.login(t)
	require.NoError(t, s.conn.Close())

	rec := s.do(t, http.MethodGet, "/admin/submissions", nil, auth)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "closed")
}

func TestMetricsAndCORS(t *testing.T) {
	s := newTestServer(t, config.VerificationHeader)
	s.do(t, http.MethodGet, "/questions", nil, nil)

	rec := s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "csat_http_requests_total")

	rec = s.do(t, http.MethodOptions, "/submit", nil, map[string]string{"Origin": "https://survey.example.com"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://survey.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = s.do(t, http.MethodGet, "/questions", nil, map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
