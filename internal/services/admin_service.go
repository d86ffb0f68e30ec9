package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/models"
)

// AdminListLimit caps the admin listing.
const AdminListLimit = 500

type AdminStore interface {
	ListSubmissions(ctx context.Context, limit int) ([]models.Submission, error)
	GetSubmission(ctx context.Context, id int64) (*models.Submission, error)
	DeleteSubmission(ctx context.Context, id int64) (string, error)
}

type AttachmentRemover interface {
	Remove(publicPath string) error
}

type AdminService struct {
	store       AdminStore
	catalog     QuestionSource
	attachments AttachmentRemover
	logger      *zap.Logger
}

// AnswerRow is a stored answer joined with the current question text.
type AnswerRow struct {
	Code         string            `json:"code"`
	Text         string            `json:"text"`
	Section      models.Section    `json:"section"`
	ServiceArea  string            `json:"serviceArea"`
	Relevant     bool              `json:"relevant"`
	Importance   models.Importance `json:"importance,omitempty"`
	Satisfaction *int              `json:"satisfaction,omitempty"`
	Known        bool              `json:"known"`
}

type SubmissionDetail struct {
	Submission models.Submission
	Questions  []models.Question
	Rows       []AnswerRow
}

type DeleteResult struct {
	ID          int64  `json:"id"`
	FilePath    string `json:"file_path"`
	FileRemoved bool   `json:"file_removed"`
}

func NewAdminService(store AdminStore, catalog QuestionSource, attachments AttachmentRemover, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{store: store, catalog: catalog, attachments: attachments, logger: logger}
}

// List returns the newest submissions first.
func (s *AdminService) List(ctx context.Context) ([]models.Submission, error) {
	return s.store.ListSubmissions(ctx, AdminListLimit)
}

// Get returns a submission with its answers joined against the live catalog.
// Answers whose code left the catalog are kept with Known=false.
func (s *AdminService) Get(ctx context.Context, id int64) (*SubmissionDetail, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrSubmissionNotFound) {
			return nil, NewNotFoundError("Not found")
		}
		return nil, err
	}
	questions := s.catalog.Questions()
	byCode := make(map[string]models.Question, len(questions))
	for _, q := range questions {
		byCode[q.Code] = q
	}
	rows := make([]AnswerRow, 0, len(sub.Answers))
	for _, a := range sub.Answers {
		q, known := byCode[a.Code]
		rows = append(rows, AnswerRow{
			Code:         a.Code,
			Text:         q.Text,
			Section:      q.Section,
			ServiceArea:  q.ServiceArea,
			Relevant:     a.Relevant,
			Importance:   a.Importance,
			Satisfaction: a.Satisfaction,
			Known:        known,
		})
	}
	return &SubmissionDetail{Submission: *sub, Questions: questions, Rows: rows}, nil
}

// Delete removes the submission row first and its attachment second. A file
// that cannot be removed is logged and reported, the delete still stands.
func (s *AdminService) Delete(ctx context.Context, id int64) (*DeleteResult, error) {
	path, err := s.store.DeleteSubmission(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrSubmissionNotFound) {
			return nil, NewNotFoundError("Not found")
		}
		return nil, err
	}
	res := &DeleteResult{ID: id, FilePath: path}
	if path == "" || s.attachments == nil {
		return res, nil
	}
	if err := s.attachments.Remove(path); err != nil {
		s.logger.Warn("submission deleted but attachment remains",
			zap.Int64("id", id), zap.String("file_path", path), zap.Error(err))
		return res, nil
	}
	res.FileRemoved = true
	return res, nil
}
