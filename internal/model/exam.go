package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam represents an exam entity.
type Exam struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	DurationInMinutes int        `json:"duration_in_minutes"`
	OpenTime          *time.Time `json:"open_time,omitempty"`
	CloseTime         *time.Time `json:"close_time,omitempty"`
	Token             string     `json:"token,omitempty"`
	CreatedBy         int        `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// WindowState describes where an instant falls relative to an exam's access window.
type WindowState string

const (
	WindowUpcoming WindowState = "upcoming"
	WindowOpen     WindowState = "open"
	WindowClosed   WindowState = "closed"
)

// WindowAt evaluates openTime <= now <= closeTime; a missing bound is unconstrained.
func (e *Exam) WindowAt(now time.Time) WindowState {
	if e.OpenTime != nil && now.Before(*e.OpenTime) {
		return WindowUpcoming
	}
	if e.CloseTime != nil && now.After(*e.CloseTime) {
		return WindowClosed
	}
	return WindowOpen
}

// DurationSeconds is the countdown length of one attempt.
func (e *Exam) DurationSeconds() int {
	return e.DurationInMinutes * 60
}

// ExamForStudent omits the redemption token.
type ExamForStudent struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	DurationInMinutes int        `json:"duration_in_minutes"`
	OpenTime          *time.Time `json:"open_time,omitempty"`
	CloseTime         *time.Time `json:"close_time,omitempty"`
}

// ForStudent strips the token.
func (e *Exam) ForStudent() ExamForStudent {
	return ExamForStudent{
		ID:                e.ID,
		Title:             e.Title,
		DurationInMinutes: e.DurationInMinutes,
		OpenTime:          e.OpenTime,
		CloseTime:         e.CloseTime,
	}
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title             string     `json:"title" binding:"required,min=3,max=255"`
	DurationInMinutes int        `json:"duration_in_minutes" binding:"required,min=1,max=480"`
	OpenTime          *time.Time `json:"open_time" binding:"omitempty"`
	CloseTime         *time.Time `json:"close_time" binding:"omitempty,gtfield=OpenTime"`
	Token             string     `json:"token" binding:"omitempty,min=4,max=20,alphanum"`
	// OpenAccess creates the exam without a token; otherwise an omitted
	// token is generated.
	OpenAccess bool `json:"open_access"`
}

// UpdateExamRequest replaces an exam's title, duration and access window.
// The token is managed separately.
type UpdateExamRequest struct {
	Title             string     `json:"title" binding:"required,min=3,max=255"`
	DurationInMinutes int        `json:"duration_in_minutes" binding:"required,min=1,max=480"`
	OpenTime          *time.Time `json:"open_time" binding:"omitempty"`
	CloseTime         *time.Time `json:"close_time" binding:"omitempty,gtfield=OpenTime"`
}

// UpdateTokenRequest sets, regenerates or clears an exam's token.
type UpdateTokenRequest struct {
	Token      string `json:"token" binding:"omitempty,min=4,max=20,alphanum"`
	OpenAccess bool   `json:"open_access"`
}

// RedeemTokenRequest is the payload for unlocking an exam.
type RedeemTokenRequest struct {
	Token string `json:"token" binding:"required,max=64"`
}
