package main

import "time"

// ============================================================================
// State Broadcasts
// ============================================================================
// The Controller emits these on its broadcast channel whenever externally
// visible state changes. RunBroadcaster converts them into WS frames.
// ============================================================================

// StateBroadcast is a marker interface for externally-visible state changes.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastMovementChanged is emitted when the computed movement differs from
// the last one shown.
type BroadcastMovementChanged struct {
	Movement MovementOutput
	At       time.Time
}

// BroadcastCounterChanged is emitted after every counter increment or reset.
type BroadcastCounterChanged struct {
	Counter CounterTime
	At      time.Time
}

// BroadcastLoopStateChanged is emitted when a loop starts or stops.
type BroadcastLoopStateChanged struct {
	Loop    string
	Running bool
	At      time.Time
}

func (BroadcastMovementChanged) broadcastMarker()  {}
func (BroadcastCounterChanged) broadcastMarker()   {}
func (BroadcastLoopStateChanged) broadcastMarker() {}
