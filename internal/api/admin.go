package api

import (
	"net/http"
	"strconv"

	"github.com/soaringjerry/csat/internal/models"
	"github.com/soaringjerry/csat/internal/services"
)

// submissionItem is the list/detail wire shape; file_path is null when the
// submission has no attachment.
type submissionItem struct {
	ID        int64              `json:"id"`
	Email     string             `json:"email"`
	CreatedAt int64              `json:"created_at"`
	Meta      map[string]any     `json:"meta"`
	Scores    models.ScoreReport `json:"scores"`
	Remark    string             `json:"remark"`
	FilePath  *string            `json:"file_path"`
}

type submissionDetail struct {
	submissionItem
	Answers   []models.Answer      `json:"answers"`
	Questions []models.Question    `json:"questions"`
	Rows      []services.AnswerRow `json:"rows"`
}

func toItem(sub *models.Submission) submissionItem {
	item := submissionItem{
		ID:        sub.ID,
		Email:     sub.Email,
		CreatedAt: sub.CreatedAtMillis(),
		Meta:      sub.Meta,
		Scores:    sub.Scores,
		Remark:    sub.Remark,
	}
	if item.Meta == nil {
		item.Meta = map[string]any{}
	}
	if sub.AttachmentPath != "" {
		p := sub.AttachmentPath
		item.FilePath = &p
	}
	return item
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (rt *Router) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var body loginBody
	if err := decodeJSON(r, &body); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	res, err := rt.deps.Auth.Login(body.Email, body.Password)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "token": res.Token})
}

func (rt *Router) handleAdminList(w http.ResponseWriter, r *http.Request) {
	subs, err := rt.deps.Admin.List(r.Context())
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	items := make([]submissionItem, 0, len(subs))
	for i := range subs {
		items = append(items, toItem(&subs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, services.NewNotFoundError("Not found")
	}
	return id, nil
}

func (rt *Router) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	detail, err := rt.deps.Admin.Get(r.Context(), id)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	answers := detail.Submission.Answers
	if answers == nil {
		answers = []models.Answer{}
	}
	writeJSON(w, http.StatusOK, submissionDetail{
		submissionItem: toItem(&detail.Submission),
		Answers:        answers,
		Questions:      detail.Questions,
		Rows:           detail.Rows,
	})
}

func (rt *Router) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	res, err := rt.deps.Admin.Delete(r.Context(), id)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"id":           res.ID,
		"file_path":    res.FilePath,
		"file_removed": res.FileRemoved,
	})
}

func (rt *Router) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	sum, err := rt.deps.Stats.Summary(r.Context())
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (rt *Router) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	res, err := rt.deps.Export.Export(r.Context(), r.URL.Query().Get("format"))
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	_, _ = w.Write(res.Data)
}
