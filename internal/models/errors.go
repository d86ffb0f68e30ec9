package models

import "errors"

// Store sentinels, translated into API errors by the services.
var (
	ErrDuplicateSubmission = errors.New("submission already exists for this email")
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrOTPNotFound         = errors.New("no verification code for this email")
	// ErrOTPNotAttemptable means the conditional attempt update matched no
	// row: the record expired, was verified or ran out of attempts.
	ErrOTPNotAttemptable = errors.New("verification code can no longer be attempted")
)
