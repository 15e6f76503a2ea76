package models

import (
	"time"
)

// InstructorAccount tracks an instructor's standing with the external
// payment processor. Onboarding and capability flags are only flipped by
// processor callbacks, never assumed locally.
type InstructorAccount struct {
	InstructorID       string    `json:"instructor_id" db:"instructor_id"`
	StripeAccountID    string    `json:"stripe_account_id" db:"stripe_account_id"`
	OnboardingComplete bool      `json:"onboarding_complete" db:"onboarding_complete"`
	PayoutsEnabled     bool      `json:"payouts_enabled" db:"payouts_enabled"`
	InstantPayoutsOk   bool      `json:"instant_payouts_ok" db:"instant_payouts_ok"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// PayoutRate is an instructor's active compensation rate in cents per hour.
type PayoutRate struct {
	InstructorID           string    `json:"instructor_id" db:"instructor_id"`
	FlightInstructionCents int64     `json:"flight_instruction_cents" db:"flight_instruction_cents"`
	GroundInstructionCents int64     `json:"ground_instruction_cents" db:"ground_instruction_cents"`
	InstantPayoutEnabled   bool      `json:"instant_payout_enabled" db:"instant_payout_enabled"`
	EffectiveDate          time.Time `json:"effective_date" db:"effective_date"`
	IsActive               bool      `json:"is_active" db:"is_active"`
}

// BillingRate is what a student is charged for one instructor, in cents
// per hour. The margin between BillingRate and PayoutRate is platform
// revenue.
type BillingRate struct {
	StudentID              string    `json:"student_id" db:"student_id"`
	InstructorID           string    `json:"instructor_id" db:"instructor_id"`
	FlightInstructionCents int64     `json:"flight_instruction_cents" db:"flight_instruction_cents"`
	GroundInstructionCents int64     `json:"ground_instruction_cents" db:"ground_instruction_cents"`
	EffectiveDate          time.Time `json:"effective_date" db:"effective_date"`
	IsActive               bool      `json:"is_active" db:"is_active"`
}
