package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestManager_DisabledPassesThrough(t *testing.T) {
	m := NewManager(Config{Enabled: false}, zerolog.Nop())

	calls := 0
	for i := 0; i < 10; i++ {
		_ = m.Run(ServiceEmail, func() error {
			calls++
			return errors.New("smtp down")
		})
	}
	if calls != 10 {
		t.Errorf("calls = %d, want 10", calls)
	}
	if got := m.State(ServiceEmail); got != "disabled" {
		t.Errorf("State() = %q, want disabled", got)
	}
}

func TestManager_TripsOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Email.ConsecutiveFailures = 3
	cfg.Email.Timeout = time.Minute
	m := NewManager(cfg, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_ = m.Run(ServiceEmail, func() error { return errors.New("smtp down") })
	}
	if got := m.State(ServiceEmail); got != "open" {
		t.Fatalf("State() = %q, want open", got)
	}

	err := m.Run(ServiceEmail, func() error {
		t.Fatal("call must not run while open")
		return nil
	})
	if !IsOpen(err) {
		t.Errorf("expected open-state error, got %v", err)
	}

	// Other services are isolated
	if got := m.State(ServiceIdentity); got != "closed" {
		t.Errorf("identity breaker = %q, want closed", got)
	}
}

func TestManager_StatesListsEveryService(t *testing.T) {
	m := NewManager(DefaultConfig(), zerolog.Nop())
	states := m.States()
	for _, svc := range Services {
		if states[string(svc)] != "closed" {
			t.Errorf("%s state = %q, want closed", svc, states[string(svc)])
		}
	}

	var nilManager *Manager
	if got := nilManager.State(ServiceStripe); got != "disabled" {
		t.Errorf("nil manager State() = %q", got)
	}
}
