package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	AccountID     string    `json:"account_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

// Logger emits structured audit events for every balance mutation and
// configuration change. Persistent audit state (the transaction log, the
// settings audit table) lives in the store; this stream is for operators.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogMutation(transactionID, accountID string, amount int64, direction, status string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     direction,
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        status,
	})
}

func (a *Logger) LogError(transactionID, accountID string, err error) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		AccountID:     accountID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogConfigChange(key, oldValue, newValue, changedBy string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CONFIG_CHANGE",
		Status:    "SUCCESS",
		Details: map[string]string{
			"key":        key,
			"old_value":  oldValue,
			"new_value":  newValue,
			"changed_by": changedBy,
		},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
