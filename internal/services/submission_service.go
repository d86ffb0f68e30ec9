package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/mailer"
	"github.com/soaringjerry/csat/internal/metrics"
	"github.com/soaringjerry/csat/internal/models"
	"github.com/soaringjerry/csat/internal/uploads"
)

// Meta keys every stored submission carries, defaulting to "".
var defaultMetaKeys = []string{"vessel", "customerOwner", "contact", "position"}

type SubmissionStore interface {
	InsertSubmission(ctx context.Context, sub *models.Submission) error
}

// QuestionSource yields the current catalog snapshot.
type QuestionSource interface {
	Questions() []models.Question
}

type AttachmentStore interface {
	Save(originalName string, r io.Reader) (string, error)
	Remove(publicPath string) error
}

// AnswerInput is an answer as received on the wire, before it is trusted.
type AnswerInput struct {
	Code         string `json:"code" validate:"required,max=64"`
	Relevant     *bool  `json:"relevant" validate:"required"`
	Importance   string `json:"importance,omitempty" validate:"omitempty,oneof=HIGH MEDIUM LOW"`
	Satisfaction *int   `json:"satisfaction,omitempty" validate:"omitempty,min=0,max=5"`
}

// Attachment is an optional uploaded file.
type Attachment struct {
	Name   string
	Reader io.Reader
}

type SubmitRequest struct {
	Email      string         `json:"email" validate:"required,max=254"`
	Meta       map[string]any `json:"meta"`
	Answers    []AnswerInput  `json:"answers" validate:"required,dive"`
	Remark     string         `json:"remark" validate:"max=2000"`
	Attachment *Attachment    `json:"-" validate:"-"`
}

type SubmitResult struct {
	ID     int64              `json:"id"`
	Scores models.ScoreReport `json:"scores"`
}

type NotifyOptions struct {
	To          string
	From        string
	Brand       string
	MailTimeout time.Duration
}

type SubmissionService struct {
	store       SubmissionStore
	catalog     QuestionSource
	gate        Gate
	attachments AttachmentStore
	mail        mailer.Sender
	notify      NotifyOptions
	logger      *zap.Logger
	validate    *validator.Validate
	now         func() time.Time
	dispatch    func(func())
}

func NewSubmissionService(store SubmissionStore, catalog QuestionSource, gate Gate, attachments AttachmentStore, logger *zap.Logger) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{
		store:       store,
		catalog:     catalog,
		gate:        gate,
		attachments: attachments,
		logger:      logger,
		validate:    newValidator(),
		now:         func() time.Time { return time.Now().UTC() },
		dispatch:    func(f func()) { go f() },
	}
}

// WithNotifications mails opts.To after every accepted submission.
func (s *SubmissionService) WithNotifications(mail mailer.Sender, opts NotifyOptions) *SubmissionService {
	if opts.MailTimeout <= 0 {
		opts.MailTimeout = 60 * time.Second
	}
	s.mail = mail
	s.notify = opts
	return s
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validationIssues turns validator errors into wire paths such as
// "answers[2].satisfaction".
func validationIssues(err error) []Issue {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{Path: "", Message: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		issues = append(issues, Issue{Path: path, Message: issueMessage(fe)})
	}
	return issues
}

func issueMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// normalizeMeta fills the well-known keys and rejects non-string values for
// them; other keys pass through untouched.
func normalizeMeta(meta map[string]any) (map[string]any, []Issue) {
	out := make(map[string]any, len(meta)+len(defaultMetaKeys))
	for k, v := range meta {
		out[k] = v
	}
	var issues []Issue
	for _, k := range defaultMetaKeys {
		v, ok := out[k]
		if !ok || v == nil {
			out[k] = ""
			continue
		}
		if _, isString := v.(string); !isString {
			issues = append(issues, Issue{Path: "meta." + k, Message: "must be a string"})
		}
	}
	return out, issues
}

// checkAnswers validates the shape of the payload and converts it.
func (s *SubmissionService) checkAnswers(req *SubmitRequest) (map[string]any, []models.Answer, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, NewValidationError("Invalid payload", validationIssues(err))
	}
	meta, issues := normalizeMeta(req.Meta)
	if len(issues) > 0 {
		return nil, nil, NewValidationError("Invalid payload", issues)
	}
	answers := make([]models.Answer, 0, len(req.Answers))
	for _, in := range req.Answers {
		relevant := *in.Relevant
		if relevant && (in.Importance == "" || in.Satisfaction == nil) {
			return nil, nil, NewInvalidError(fmt.Sprintf("Missing importance/satisfaction for %s", in.Code))
		}
		answers = append(answers, models.Answer{
			Code:         in.Code,
			Relevant:     relevant,
			Importance:   models.Importance(in.Importance),
			Satisfaction: in.Satisfaction,
		})
	}
	return meta, answers, nil
}

// Submit validates, authorizes, scores and stores one survey response. The
// attachment, when present, is written first and removed again if the row
// cannot be stored.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	req.Email = NormalizeEmail(req.Email)
	req.Remark = strings.TrimSpace(req.Remark)
	if req.Email == "" {
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, NewInvalidError("Missing X-Email header")
	}
	meta, answers, err := s.checkAnswers(&req)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	now := s.now()
	if err := s.gate.Authorize(ctx, req.Email, now); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("unauthorized").Inc()
		return nil, err
	}

	scores := ComputeScores(s.catalog.Questions(), answers)
	sub := &models.Submission{
		Email:     req.Email,
		Meta:      meta,
		Answers:   answers,
		Scores:    scores,
		Remark:    req.Remark,
		CreatedAt: now,
	}

	if req.Attachment != nil && s.attachments != nil {
		path, err := s.attachments.Save(req.Attachment.Name, req.Attachment.Reader)
		if err != nil {
			if errors.Is(err, uploads.ErrTooLarge) {
				metrics.SubmissionsTotal.WithLabelValues("too_large").Inc()
				return nil, NewTooLargeError("Attachment too large")
			}
			return nil, err
		}
		sub.AttachmentPath = path
	}

	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		s.discardAttachment(sub.AttachmentPath)
		if errors.Is(err, models.ErrDuplicateSubmission) {
			metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
			return nil, NewConflictError("A submission already exists for this email")
		}
		return nil, err
	}
	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("submission stored",
		zap.Int64("id", sub.ID),
		zap.Float64("overall", scores.Overall),
		zap.Bool("attachment", sub.AttachmentPath != ""),
	)
	s.notifyOperators(sub)
	return &SubmitResult{ID: sub.ID, Scores: scores}, nil
}

func (s *SubmissionService) discardAttachment(path string) {
	if path == "" {
		return
	}
	if err := s.attachments.Remove(path); err != nil {
		s.logger.Warn("failed to remove orphaned attachment", zap.String("file_path", path), zap.Error(err))
	}
}

func (s *SubmissionService) notifyOperators(sub *models.Submission) {
	if s.mail == nil || s.notify.To == "" {
		return
	}
	msg := mailer.SubmissionNotice(s.notify.From, s.notify.To, s.notify.Brand, sub.ID, sub.Email,
		sub.Scores.Overall, sub.Scores.Onboard, sub.Scores.Ashore)
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.notify.MailTimeout)
		defer cancel()
		if err := s.mail.Send(ctx, msg); err != nil {
			metrics.MailFailures.WithLabelValues("submission").Inc()
			s.logger.Error("failed to send submission notice", zap.Int64("id", sub.ID), zap.Error(err))
		}
	})
}
