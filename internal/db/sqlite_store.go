package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/csat/internal/models"
)

type SQLiteStore struct {
	db *sql.DB
}

// Open creates the parent directory of path and opens the database with a
// busy timeout so concurrent writers queue instead of failing.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(path))
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return conn, nil
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// --- submissions ---

const submissionColumns = "id, email, meta_json, answers_json, scores_json, remark_text, file_path, created_at"

// InsertSubmission stores sub and fills in its ID. The unique index on email
// makes the duplicate check and the write a single statement; a second
// submission for the same email yields models.ErrDuplicateSubmission.
func (s *SQLiteStore) InsertSubmission(ctx context.Context, sub *models.Submission) error {
	if sub == nil {
		return errors.New("nil submission")
	}
	meta := sub.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	answers := sub.Answers
	if answers == nil {
		answers = []models.Answer{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	scoresJSON, err := json.Marshal(sub.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (email, meta_json, answers_json, scores_json, remark_text, file_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.Email, string(metaJSON), string(answersJSON), string(scoresJSON),
		toNullString(sub.Remark), toNullString(sub.AttachmentPath), toMillis(sub.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateSubmission
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert submission id: %w", err)
	}
	sub.ID = id
	return nil
}

// ListSubmissions returns at most limit submissions, newest first.
func (s *SQLiteStore) ListSubmissions(ctx context.Context, limit int) ([]models.Submission, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return collectSubmissions(rows)
}

// ListSubmissionsAscending returns every submission, oldest first.
func (s *SQLiteStore) ListSubmissionsAscending(ctx context.Context) ([]models.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return collectSubmissions(rows)
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id int64) (*models.Submission, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("get submission %d: %w", id, err)
	}
	return sub, nil
}

// DeleteSubmission removes the row and returns the attachment path it held
// (empty when there was none).
func (s *SQLiteStore) DeleteSubmission(ctx context.Context, id int64) (string, error) {
	var path sql.NullString
	err := s.db.QueryRowContext(ctx, "DELETE FROM submissions WHERE id = ? RETURNING file_path", id).Scan(&path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrSubmissionNotFound
		}
		return "", fmt.Errorf("delete submission %d: %w", id, err)
	}
	return path.String, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var (
		sub                       models.Submission
		metaJSON, answers, scores string
		remark, filePath          sql.NullString
		createdAt                 int64
	)
	if err := row.Scan(&sub.ID, &sub.Email, &metaJSON, &answers, &scores, &remark, &filePath, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &sub.Meta); err != nil {
		return nil, fmt.Errorf("decode meta of submission %d: %w", sub.ID, err)
	}
	if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of submission %d: %w", sub.ID, err)
	}
	if err := json.Unmarshal([]byte(scores), &sub.Scores); err != nil {
		return nil, fmt.Errorf("decode scores of submission %d: %w", sub.ID, err)
	}
	sub.Remark = remark.String
	sub.AttachmentPath = filePath.String
	sub.CreatedAt = fromMillis(createdAt)
	return &sub, nil
}

func collectSubmissions(rows *sql.Rows) ([]models.Submission, error) {
	defer rows.Close()
	out := make([]models.Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

// --- one-time codes ---

func (s *SQLiteStore) InsertOTP(ctx context.Context, rec *models.OTPRecord) error {
	if rec == nil {
		return errors.New("nil otp record")
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO otp_codes (email, code_hash, created_at, expires_at, attempts) VALUES (?, ?, ?, ?, 0)",
		rec.Email, rec.CodeHash, toMillis(rec.CreatedAt), toMillis(rec.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert otp id: %w", err)
	}
	rec.ID = id
	rec.Attempts = 0
	rec.VerifiedAt = nil
	return nil
}

// LatestOTP returns the most recently issued record for email.
func (s *SQLiteStore) LatestOTP(ctx context.Context, email string) (*models.OTPRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, code_hash, created_at, expires_at, verified_at, attempts
		 FROM otp_codes WHERE email = ? ORDER BY created_at DESC, id DESC LIMIT 1`, email)
	var (
		rec                  models.OTPRecord
		createdAt, expiresAt int64
		verifiedAt           sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.Email, &rec.CodeHash, &createdAt, &expiresAt, &verifiedAt, &rec.Attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrOTPNotFound
		}
		return nil, fmt.Errorf("latest otp: %w", err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.ExpiresAt = fromMillis(expiresAt)
	if verifiedAt.Valid {
		t := fromMillis(verifiedAt.Int64)
		rec.VerifiedAt = &t
	}
	return &rec, nil
}

// AttemptOTP spends one attempt on record id and marks it verified when
// codeHash matches, all in one statement. The row is only touched while it is
// unverified, unexpired at now and below maxAttempts; otherwise
// models.ErrOTPNotAttemptable is returned. matched reports whether this
// attempt verified the record.
func (s *SQLiteStore) AttemptOTP(ctx context.Context, id int64, codeHash string, maxAttempts int, now time.Time) (attempts int, matched bool, err error) {
	nowMs := toMillis(now)
	var verifiedAt sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`UPDATE otp_codes
		 SET attempts = attempts + 1,
		     verified_at = CASE WHEN code_hash = ? THEN ? ELSE verified_at END
		 WHERE id = ? AND verified_at IS NULL AND attempts < ? AND expires_at > ?
		 RETURNING attempts, verified_at`,
		codeHash, nowMs, id, maxAttempts, nowMs,
	).Scan(&attempts, &verifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, models.ErrOTPNotAttemptable
		}
		return 0, false, fmt.Errorf("attempt otp %d: %w", id, err)
	}
	return attempts, verifiedAt.Valid, nil
}

// PurgeOTP deletes records that expired before cutoff.
func (s *SQLiteStore) PurgeOTP(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM otp_codes WHERE expires_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge otp: %w", err)
	}
	return res.RowsAffected()
}

// --- rate events ---

// RecordEventIfUnder appends an event for key only while fewer than limit
// events for key happened after since. The count and the insert are one
// write statement, so concurrent callers cannot both slip under the limit.
func (s *SQLiteStore) RecordEventIfUnder(ctx context.Context, key string, limit int, since, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_events (key, created_at)
		 SELECT ?, ?
		 WHERE (SELECT COUNT(*) FROM rate_events WHERE key = ? AND created_at > ?) < ?`,
		key, toMillis(now), key, toMillis(since), limit,
	)
	if err != nil {
		return false, fmt.Errorf("record rate event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record rate event: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) PurgeRateEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rate_events WHERE created_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge rate events: %w", err)
	}
	return res.RowsAffected()
}
