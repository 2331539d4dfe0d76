// Package telemetry wires the module's one piece of ambient observability: a
// structured logger every package accepts as an explicit parameter instead
// of reaching for global state (spec.md Design Notes, "global mutable
// state... any process-wide metrics must be threaded as explicit context").
package telemetry

import "go.uber.org/zap"

// Nop returns a logger that discards everything, used whenever a caller does
// not supply one.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns l, or a no-op logger if l is nil. Every package in this
// module that accepts an optional *zap.Logger should route it through here
// before use.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
