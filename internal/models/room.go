package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus is whether a room accepts new questions.
type RoomStatus string

const (
	RoomActive RoomStatus = "active"
	RoomClosed RoomStatus = "closed"
)

// Room is a lecturer-owned Q&A session identified publicly by its code.
type Room struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"roomName"`
	Code             string     `json:"roomCode"`
	LecturerID       uuid.UUID  `json:"lecturer"`
	LecturerName     string     `json:"lecturerName"`
	QuestionsVisible bool       `json:"questionsVisible"`
	Status           RoomStatus `json:"status"`
	QuestionCount    int        `json:"questionCount"`
	ArchiveKey       string     `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// IsClosed reports whether the room refuses new questions.
func (r *Room) IsClosed() bool { return r.Status == RoomClosed }

// OwnedBy reports whether userID is the room's lecturer.
func (r *Room) OwnedBy(userID uuid.UUID) bool { return r.LecturerID == userID }
