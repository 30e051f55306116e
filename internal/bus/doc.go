// Package bus replicates connection, room, and message events between worker
// processes over a shared broker.
//
// Each process publishes typed events on a fixed set of channels and applies
// the events it receives to its own registries. Every payload carries the
// publishing worker's id; a subscriber drops its own events unless the event
// sets includeSender, which commands that must also act on the originating
// process rely on.
package bus
