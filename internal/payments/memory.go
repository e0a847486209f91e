package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IntentState is the lifecycle of a recorded card intent.
type IntentState string

const (
	IntentHeld      IntentState = "held"
	IntentCaptured  IntentState = "captured"
	IntentCancelled IntentState = "cancelled"
)

// Intent is a card hold tracked by the Ledger.
type Intent struct {
	ID       string
	Booking  string
	Amount   int64
	Currency string
	State    IntentState
	Refunded int64
}

// Ledger is an in-process card gateway used when no stripe key is configured
// and in tests. It enforces the same state rules stripe does.
type Ledger struct {
	mu      sync.Mutex
	intents map[string]*Intent
}

func NewLedger() *Ledger { return &Ledger{intents: make(map[string]*Intent)} }

func (l *Ledger) Hold(_ context.Context, bookingID string, amount int64, currency, _ string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("hold amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := "pi_" + uuid.NewString()
	l.intents[id] = &Intent{ID: id, Booking: bookingID, Amount: amount, Currency: currency, State: IntentHeld}
	return id, nil
}

func (l *Ledger) Capture(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	in, ok := l.intents[id]
	if !ok {
		return fmt.Errorf("intent %s not found", id)
	}
	if in.State != IntentHeld {
		return fmt.Errorf("intent %s is %s", id, in.State)
	}
	in.State = IntentCaptured
	return nil
}

func (l *Ledger) Cancel(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	in, ok := l.intents[id]
	if !ok {
		return fmt.Errorf("intent %s not found", id)
	}
	if in.State != IntentHeld {
		return fmt.Errorf("intent %s is %s", id, in.State)
	}
	in.State = IntentCancelled
	return nil
}

func (l *Ledger) Refund(_ context.Context, id string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	in, ok := l.intents[id]
	if !ok {
		return fmt.Errorf("intent %s not found", id)
	}
	if in.State != IntentCaptured {
		return fmt.Errorf("intent %s is %s", id, in.State)
	}
	if in.Refunded+amount > in.Amount {
		return fmt.Errorf("refund exceeds captured amount")
	}
	in.Refunded += amount
	return nil
}

// Get returns a copy of the intent.
func (l *Ledger) Get(id string) (Intent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	in, ok := l.intents[id]
	if !ok {
		return Intent{}, false
	}
	return *in, true
}
