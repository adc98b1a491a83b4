// Package testutil provides deterministic building blocks for scheduler
// tests and golden scenarios: frame time sequences, a manually driven frame
// source, fixed session identifiers and thread-safe recorders for settle
// notifications.
package testutil
