package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// SimpleStateMachine provides a thread-safe in-memory state machine implementation.
// Uses a nested map structure for O(1) transition lookups: [fromState][event][]Transition
type SimpleStateMachine struct {
	initialState State
	currentState State
	transitions  map[string]map[string][]Transition
	terminal     map[string]struct{}
	hooks        []Hook
	mu           sync.RWMutex
}

func newSimpleStateMachine(initialState State) *SimpleStateMachine {
	return &SimpleStateMachine{
		initialState: initialState,
		currentState: initialState,
		transitions:  make(map[string]map[string][]Transition),
		terminal:     make(map[string]struct{}),
	}
}

func (sm *SimpleStateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

func (sm *SimpleStateMachine) AddTransition(from, to State, event Event, guards []Guard, actions []Action) error {
	if from == nil || to == nil || event == nil {
		return ErrInvalidTransition
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, final := sm.terminal[from.Name()]; final {
		return NewErrTerminalState(from.Name())
	}

	fromStateName := from.Name()
	eventName := event.Name()

	if _, ok := sm.transitions[fromStateName]; !ok {
		sm.transitions[fromStateName] = make(map[string][]Transition)
	}

	// Multiple transitions allowed for same from/event to support guard-based branching
	sm.transitions[fromStateName][eventName] = append(sm.transitions[fromStateName][eventName], Transition{
		From:    from,
		To:      to,
		Event:   event,
		Guards:  guards,
		Actions: actions,
	})
	return nil
}

func (sm *SimpleStateMachine) Fire(ctx context.Context, event Event, data any) error {
	if event == nil {
		return ErrInvalidEvent
	}

	sm.mu.Lock()

	from := sm.currentState
	if _, final := sm.terminal[from.Name()]; final {
		sm.mu.Unlock()
		return NewErrTerminalState(from.Name())
	}

	t, err := sm.lookup(ctx, event, data)
	if err != nil {
		sm.mu.Unlock()
		return err
	}

	// Execute actions before state change; any failure aborts transition
	for _, action := range t.Actions {
		if action != nil {
			if err := action(ctx, from, t.To, event, data); err != nil {
				sm.mu.Unlock()
				return fmt.Errorf("action failed: %w", err)
			}
		}
	}

	sm.currentState = t.To
	hooks := sm.hooks
	sm.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx, from, t.To, event)
	}
	return nil
}

func (sm *SimpleStateMachine) CanFire(ctx context.Context, event Event, data any) bool {
	if event == nil {
		return false
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if _, final := sm.terminal[sm.currentState.Name()]; final {
		return false
	}
	_, err := sm.lookup(ctx, event, data)
	return err == nil
}

// IsTerminal reports whether the machine has reached a state registered with WithTerminal.
func (sm *SimpleStateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, final := sm.terminal[sm.currentState.Name()]
	return final
}

func (sm *SimpleStateMachine) Reset() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.currentState = sm.initialState
	return nil
}

// lookup returns the first transition whose guards pass. Must be called with lock held.
func (sm *SimpleStateMachine) lookup(ctx context.Context, event Event, data any) (*Transition, error) {
	currentStateName := sm.currentState.Name()
	eventName := event.Name()

	transitions := sm.transitions[currentStateName][eventName]
	if len(transitions) == 0 {
		return nil, NewErrNoTransitionAvailable(currentStateName, eventName)
	}

	// First transition with passing guards wins (enables priority ordering)
	for i, t := range transitions {
		allGuardsPassed := true
		for _, guard := range t.Guards {
			if guard != nil && !guard(ctx, sm.currentState, event, data) {
				allGuardsPassed = false
				break
			}
		}
		if allGuardsPassed {
			return &transitions[i], nil
		}
	}

	return nil, NewErrTransitionRejected(currentStateName, eventName)
}
