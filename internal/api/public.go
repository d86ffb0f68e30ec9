package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/soaringjerry/csat/internal/middleware"
	"github.com/soaringjerry/csat/internal/services"
	"github.com/soaringjerry/csat/internal/utils"
)

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"time":       rt.now().Format(time.RFC3339Nano),
		"name":       rt.deps.App.Name,
		"locale":     locale,
		"msg":        utils.T(locale, "health.ok"),
		"commit":     rt.deps.App.Commit,
		"build_time": rt.deps.App.BuildTime,
	})
}

func (rt *Router) handleQuestions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"questions": rt.deps.Catalog.Questions()})
}

// submitBody is the JSON form of POST /submit. The multipart form carries
// the same fields with meta and answers as JSON strings.
type submitBody struct {
	Email   string                 `json:"email"`
	Meta    map[string]any         `json:"meta"`
	Answers []services.AnswerInput `json:"answers"`
	Remark  string                 `json:"remark"`
}

func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		req services.SubmitRequest
		err error
	)
	if mediaType == "multipart/form-data" {
		limit := rt.deps.MaxUploadBytes + multipartHeadroom
		if r.ContentLength > limit {
			rt.writeServiceError(w, r, services.NewTooLargeError("Attachment too large"))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		req, err = parseMultipartSubmit(r)
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		var body submitBody
		if err = decodeJSON(r, &body); err == nil {
			req = services.SubmitRequest{Email: body.Email, Meta: body.Meta, Answers: body.Answers, Remark: body.Remark}
		}
	}
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	if header := r.Header.Get("X-Email"); strings.TrimSpace(header) != "" {
		req.Email = header
	}

	res, err := rt.deps.Submissions.Submit(r.Context(), req)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": res.ID, "scores": res.Scores})
}

func parseMultipartSubmit(r *http.Request) (services.SubmitRequest, error) {
	var req services.SubmitRequest
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return req, services.NewTooLargeError("Attachment too large")
		}
		return req, services.NewInvalidError("Invalid payload")
	}
	req.Email = r.FormValue("email")
	req.Remark = r.FormValue("remark")
	if raw := r.FormValue("meta"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Meta); err != nil {
			return req, services.NewValidationError("Invalid payload", []services.Issue{{Path: "meta", Message: "must be a JSON object"}})
		}
	}
	if raw := r.FormValue("answers"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Answers); err != nil {
			return req, services.NewValidationError("Invalid payload", []services.Issue{{Path: "answers", Message: "must be a JSON array"}})
		}
	}
	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return req, services.NewInvalidError("Invalid payload")
	default:
		req.Attachment = &services.Attachment{Name: header.Filename, Reader: file}
	}
	return req, nil
}

type otpBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (rt *Router) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var body otpBody
	if err := decodeJSON(r, &body); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	msg, err := rt.deps.OTP.RequestCode(r.Context(), body.Email, middleware.LocaleFromContext(r.Context()))
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": msg})
}

func (rt *Router) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var body otpBody
	if err := decodeJSON(r, &body); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	msg, err := rt.deps.OTP.VerifyCode(r.Context(), body.Email, strings.TrimSpace(body.Code), middleware.LocaleFromContext(r.Context()))
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": msg})
}
