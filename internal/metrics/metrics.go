// Package metrics instruments commands, the change feed, expiry timers and
// notification delivery.
package metrics

import "time"

// Recorder is implemented by Nop and Prometheus.
type Recorder interface {
	// RecordCommand observes one engine command. outcome is "ok", a domain
	// error code, or "error" for store failures.
	RecordCommand(command, outcome string, duration time.Duration)
	// RecordRetry counts a command attempt that lost a version race.
	RecordRetry(command string)
	RecordChangePublished(kind string)
	// RecordChangeDropped counts changes that never reached a subscriber as
	// themselves. reason is "stale" or "coalesced".
	RecordChangeDropped(kind, reason string)
	AddSubscriptions(delta int)
	AddConnections(delta int)
	// RecordExpiry counts auto-completion attempts by trigger ("timer",
	// "sweep", "client") and result.
	RecordExpiry(trigger, result string)
	RecordNotification(backend string, err error)
}

// Nop discards every metric.
type Nop struct{}

var _ Recorder = Nop{}

func NewNop() Nop {
	return Nop{}
}

func (Nop) RecordCommand(string, string, time.Duration) {}
func (Nop) RecordRetry(string)                          {}
func (Nop) RecordChangePublished(string)                {}
func (Nop) RecordChangeDropped(string, string)          {}
func (Nop) AddSubscriptions(int)                        {}
func (Nop) AddConnections(int)                          {}
func (Nop) RecordExpiry(string, string)                 {}
func (Nop) RecordNotification(string, error)            {}
