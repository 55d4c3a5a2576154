package service

import "errors"

// Domain Errors
var (
	ErrExamNotFound       = errors.New("exam not found")
	ErrExamNotAvailable   = errors.New("exam is not open for attempts")
	ErrAlreadyAttempted   = errors.New("exam has already been attempted")
	ErrAttemptNotFound    = errors.New("no attempt exists for this exam")
	ErrAlreadyFinal       = errors.New("attempt is already finalized")
	ErrAttemptNotFinal    = errors.New("attempt is not finalized yet")
	ErrDeadlineNotReached = errors.New("attempt deadline has not been reached")
	ErrQuestionNotInExam  = errors.New("question does not belong to this exam")
	ErrResponseNotFound   = errors.New("response not found")
	ErrAlreadyGraded      = errors.New("response has already been graded")
	ErrNotEssay           = errors.New("response is not an essay answer")
	ErrOutOfRangeMarks    = errors.New("awarded marks exceed the question maximum")
	ErrInvalidCredentials = errors.New("invalid email or password")
)
