package models

import (
	"errors"
	"time"
)

var errEmptyPayload = errors.New("empty event payload")

// Role is the positional label handed to a member on join.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Member is a live connection inside a room. IsFirst is not stored, it is
// derived from join order (see registry.IsFirst).
type Member struct {
	ID       string    `json:"id" msgpack:"id"`
	Role     Role      `json:"role" msgpack:"role"`
	JoinedAt time.Time `json:"joinedAt" msgpack:"joined_at"`
}

// MemberView is a member as reported by the rooms API.
type MemberView struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	IsFirst  bool      `json:"isFirst"`
	JoinedAt time.Time `json:"joinedAt"`
}

// RoomSnapshot is the response of GET /api/rooms/:roomId
type RoomSnapshot struct {
	ID      string       `json:"id"`
	Members []MemberView `json:"members"`
}

// TranslateRequest / TranslateResponse are the bodies of POST /api/translate.
type TranslateRequest struct {
	Text   string `json:"text"`
	Target string `json:"target" binding:"required"`
	Source string `json:"source"`
}

type TranslateResponse struct {
	Text string `json:"text"`
}

type DetectRequest struct {
	Text string `json:"text"`
}

type DetectResponse struct {
	Language string `json:"language"`
}
