//go:build !tinygo

package core

// criticalState is empty off target; host timers are dispatched from one
// goroutine
type criticalState struct{}

func enterCritical() criticalState { return criticalState{} }

func exitCritical(criticalState) {}
