package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxQuestionLength is the maximum question text length in characters.
const MaxQuestionLength = 500

// QuestionStatus is the lifecycle state of a question. Purged questions have no status;
// their record is gone.
type QuestionStatus string

const (
	StatusPending  QuestionStatus = "pending"
	StatusAnswered QuestionStatus = "answered"
	StatusRejected QuestionStatus = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s QuestionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAnswered, StatusRejected:
		return true
	}
	return false
}

// Question is an anonymous student question posted into a room.
type Question struct {
	ID          uuid.UUID      `json:"id"`
	RoomID      uuid.UUID      `json:"roomId"`
	Text        string         `json:"questionText"`
	StudentTag  string         `json:"studentTag"`
	Upvotes     int            `json:"upvotes"`
	UpvotedBy   TagSet         `json:"upvotedBy"`
	Status      QuestionStatus `json:"status"`
	IsReported  bool           `json:"isReported"`
	ReportedBy  TagSet         `json:"reportedBy"`
	ReportCount int            `json:"reportCount"`
	CreatedAt   time.Time      `json:"createdAt"`
	AnsweredAt  *time.Time     `json:"answeredAt,omitempty"`
}

// Clone returns a deep copy so callers cannot alias stored sets.
func (q *Question) Clone() *Question {
	c := *q
	c.UpvotedBy = q.UpvotedBy.Clone()
	c.ReportedBy = q.ReportedBy.Clone()
	if q.AnsweredAt != nil {
		at := *q.AnsweredAt
		c.AnsweredAt = &at
	}
	return &c
}

// ToggleUpvote flips tag's upvote and keeps Upvotes equal to the number of upvoters.
// It reports whether tag has an active upvote afterwards.
func (q *Question) ToggleUpvote(tag string) bool {
	on := q.UpvotedBy.Toggle(tag)
	q.Upvotes = q.UpvotedBy.Len()
	return on
}

// AddReport records a report by tag and reports false if tag had already reported.
func (q *Question) AddReport(tag string) bool {
	if !q.ReportedBy.Add(tag) {
		return false
	}
	q.ReportCount = q.ReportedBy.Len()
	q.IsReported = true
	return true
}
