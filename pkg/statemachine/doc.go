// Package statemachine provides a small, concurrency-safe finite state machine.
//
// States and events are described by the minimal State and Event interfaces;
// StringState and StringEvent cover the common case. Transitions may carry
// Guards (veto based on runtime data) and Actions (side effects executed
// before the state changes; an error aborts the transition).
//
// Terminal states, registered with WithTerminal, make the machine reject every
// further event with ErrTerminalState. This turns the machine into a
// first-writer-wins guard: when several sources race to finish a process,
// only the first Fire into a terminal state succeeds.
//
// Hooks registered with WithHook observe completed transitions, which is
// convenient for logging lifecycle changes.
//
// # Usage
//
//	const (
//	    Idle      = statemachine.StringState("idle")
//	    Requested = statemachine.StringState("requested")
//	    Done      = statemachine.StringState("done")
//
//	    Send   = statemachine.StringEvent("send")
//	    Finish = statemachine.StringEvent("finish")
//	)
//
//	machine := statemachine.MustNew(Idle,
//	    statemachine.WithTransition(Idle, Requested, Send),
//	    statemachine.WithTransition(Requested, Done, Finish),
//	    statemachine.WithTerminal(Done),
//	)
//
//	_ = machine.Fire(ctx, Send, nil)
//	_ = machine.Fire(ctx, Finish, nil)   // nil
//	err := machine.Fire(ctx, Finish, nil) // ErrTerminalState
//
// # Errors
//
// IsNoTransitionAvailableError, IsTransitionRejectedError and
// IsTerminalStateError let callers tell "not defined", "vetoed by a guard" and
// "already finished" apart.
package statemachine
