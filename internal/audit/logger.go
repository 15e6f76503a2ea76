package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is one structured money-movement audit line. Every journal post,
// payout attempt, settlement, and clawback leaves one of these.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	JournalID   string    `json:"journal_id,omitempty"`
	ReferenceID string    `json:"reference_id,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Status      string    `json:"status"`
	Details     any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogJournal(journalID, eventType, eventID string, entryCount int) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "JOURNAL_POSTED",
		JournalID: journalID,
		Status:    "SUCCESS",
		Details: map[string]any{
			"event_type":  eventType,
			"event_id":    eventID,
			"entry_count": entryCount,
		},
	})
}

func (a *Logger) LogTransferAttempt(outboxID, instructorID string, amountCents int64, attempt int) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "TRANSFER_ATTEMPT",
		ReferenceID: outboxID,
		AmountCents: amountCents,
		Status:      "PROCESSING",
		Details:     map[string]any{"instructor_id": instructorID, "attempt": attempt},
	})
}

func (a *Logger) LogTransferResult(outboxID, status string, stripeTransferID string) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "TRANSFER_RESULT",
		ReferenceID: outboxID,
		Status:      status,
		Details:     map[string]string{"stripe_transfer_id": stripeTransferID},
	})
}

func (a *Logger) LogSettlement(transferID, status string) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "TRANSFER_SETTLEMENT",
		ReferenceID: transferID,
		Status:      status,
	})
}

func (a *Logger) LogClawback(transferID string, amountCents int64, reason string) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "CLAWBACK",
		ReferenceID: transferID,
		AmountCents: amountCents,
		Status:      "RECORDED",
		Details:     map[string]string{"reason": reason},
	})
}

func (a *Logger) LogDrift(platformCents, processorCents, driftCents int64) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "RESERVE_DRIFT",
		AmountCents: driftCents,
		Status:      "ALERTED",
		Details: map[string]int64{
			"platform_balance_cents":  platformCents,
			"processor_balance_cents": processorCents,
		},
	})
}

func (a *Logger) LogError(referenceID string, err error) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "ERROR",
		ReferenceID: referenceID,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
