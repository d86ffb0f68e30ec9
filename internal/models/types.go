package models

import "time"

// Section groups questions by where the service is delivered.
type Section string

const (
	SectionOnboard Section = "ONBOARD"
	SectionAshore  Section = "ASHORE"
)

// Importance is the respondent's weighting of a question.
type Importance string

const (
	ImportanceHigh   Importance = "HIGH"
	ImportanceMedium Importance = "MEDIUM"
	ImportanceLow    Importance = "LOW"
)

// Question is one entry of the survey catalog.
type Question struct {
	Code        string  `json:"code"`
	Text        string  `json:"text"`
	Section     Section `json:"section"`
	ServiceArea string  `json:"serviceArea"`
}

// Answer is a respondent's reply to one question. Importance and Satisfaction
// are only meaningful when Relevant is true.
type Answer struct {
	Code         string     `json:"code"`
	Relevant     bool       `json:"relevant"`
	Importance   Importance `json:"importance,omitempty"`
	Satisfaction *int       `json:"satisfaction,omitempty"`
}

// RawScores carries the un-normalized totals behind a ScoreReport.
type RawScores struct {
	TotalScore   int `json:"totalScore"`
	TotalMax     int `json:"totalMax"`
	OnboardScore int `json:"onboardScore"`
	OnboardMax   int `json:"onboardMax"`
	AshoreScore  int `json:"ashoreScore"`
	AshoreMax    int `json:"ashoreMax"`
}

// AreaScore is the breakdown entry of a single service area.
type AreaScore struct {
	Score   int     `json:"score"`
	Max     int     `json:"max"`
	Section Section `json:"section"`
	Percent float64 `json:"percent"`
}

// ScoreReport is derived from a catalog and an answer set; it is only ever
// stored next to the answers it was computed from.
type ScoreReport struct {
	Overall   float64              `json:"overall"`
	Onboard   float64              `json:"onboard"`
	Ashore    float64              `json:"ashore"`
	Raw       RawScores            `json:"raw"`
	Breakdown map[string]AreaScore `json:"breakdown"`
}

// Submission is one stored survey response.
type Submission struct {
	ID             int64          `json:"id"`
	Email          string         `json:"email"`
	Meta           map[string]any `json:"meta"`
	Answers        []Answer       `json:"answers"`
	Scores         ScoreReport    `json:"scores"`
	Remark         string         `json:"remark"`
	AttachmentPath string         `json:"file_path,omitempty"`
	CreatedAt      time.Time      `json:"-"`
}

// CreatedAtMillis is the creation time as epoch milliseconds, the unit used on the wire.
func (s *Submission) CreatedAtMillis() int64 { return s.CreatedAt.UnixMilli() }

// OTPRecord is a one-time code issued to an email address. Only the hash of
// the code is kept.
type OTPRecord struct {
	ID         int64
	Email      string
	CodeHash   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	VerifiedAt *time.Time
	Attempts   int
}

// Expired reports whether the record can no longer be used at now.
func (r *OTPRecord) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// Verified reports whether the code was confirmed.
func (r *OTPRecord) Verified() bool { return r.VerifiedAt != nil }
