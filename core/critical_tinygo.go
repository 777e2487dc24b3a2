//go:build tinygo

package core

import "runtime/interrupt"

type criticalState = interrupt.State

// enterCritical masks interrupts while the timer list is relinked
func enterCritical() criticalState { return interrupt.Disable() }

func exitCritical(s criticalState) { interrupt.Restore(s) }
