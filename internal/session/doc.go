// Package session holds the volatile per-conversation AI context. State
// lives for the process lifetime only; a restart starts every conversation
// fresh by design.
package session
