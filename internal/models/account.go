package models

import (
	"time"

	"github.com/google/uuid"
)

// StartingCreditBalance is granted to every account at registration.
const StartingCreditBalance = 50

type Account struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	PasswordHash   string    `json:"-"`
	Avatar         string    `json:"avatar"`
	Bio            string    `json:"bio"`
	Skills         []string  `json:"skills"`
	CreditBalance  int       `json:"credit_balance"`
	TasksCreated   int       `json:"tasks_created"`
	TasksCompleted int       `json:"tasks_completed"`
	Rating         float64   `json:"rating"`
	RatingCount    int       `json:"rating_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
