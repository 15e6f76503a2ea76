package services

import (
	"errors"
)

var (
	// ErrEmptyJournal rejects a journal with no entries.
	ErrEmptyJournal = errors.New("cannot post empty journal")

	// ErrUnbalancedJournal rejects entries that do not sum to zero. The
	// journal is never partially written.
	ErrUnbalancedJournal = errors.New("journal entries do not balance")

	// ErrTransfersBlocked means the reserve monitor flagged the platform
	// reserve as critical; new payouts are refused until it recovers.
	// Already-settled transfers are never reversed by this condition.
	ErrTransfersBlocked = errors.New("transfers blocked: platform reserve critical")

	// ErrOnboardingIncomplete means the instructor has no usable processor
	// account yet; the payout stays in the outbox for a later attempt.
	ErrOnboardingIncomplete = errors.New("instructor has not completed processor onboarding")

	// ErrNoActiveRate means billing cannot price a flight session.
	ErrNoActiveRate = errors.New("no active rate found")

	// ErrClawbackWindowClosed means a dispute arrived after the 72h window;
	// it needs manual operator review instead of an automatic offset.
	ErrClawbackWindowClosed = errors.New("clawback window has closed")
)
