package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enums. Transitions are enforced by the lifecycle service;
// no other package writes Status or ClaimantID.
const (
	TaskStatusOpen      = "open"
	TaskStatusClaimed   = "claimed"
	TaskStatusSubmitted = "submitted"
	TaskStatusCompleted = "completed"
	TaskStatusRejected  = "rejected"
	TaskStatusCancelled = "cancelled"
)

// FallbackReview is stored as the AI annotation when the review oracle
// fails or times out. Submission never blocks on the oracle.
const FallbackReview = "review unavailable"

// Submission is the claimant's completed work, embedded on the task.
type Submission struct {
	Content     string    `json:"content"`
	SubmittedAt time.Time `json:"submitted_at"`
	Files       []string  `json:"files,omitempty"`
	AIReview    string    `json:"ai_review,omitempty"`
}

// Review is the creator's verdict, set only on completed tasks.
type Review struct {
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

type Task struct {
	ID              uuid.UUID   `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Category        string      `json:"category"`
	Skills          []string    `json:"skills"`
	EstimatedHours  int         `json:"estimated_hours"`
	Deadline        time.Time   `json:"deadline"`
	CreditAmount    int         `json:"credit_amount"`
	Status          string      `json:"status"`
	CreatorID       uuid.UUID   `json:"creator_id"`
	ClaimantID      *uuid.UUID  `json:"claimant_id,omitempty"`
	ClaimedAt       *time.Time  `json:"claimed_at,omitempty"`
	Submission      *Submission `json:"submission,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	Review          *Review     `json:"review,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
