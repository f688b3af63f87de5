// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "github.com/adiadia/triage-runtime/internal/domain"

// Sink receives progress events in order. Emit must not block the run for
// long; slow consumers should buffer or drop.
type Sink interface {
	Emit(ev domain.Event)
}

type SinkFunc func(ev domain.Event)

func (f SinkFunc) Emit(ev domain.Event) { f(ev) }

type nopSink struct{}

func (nopSink) Emit(domain.Event) {}

// NopSink discards every event.
var NopSink Sink = nopSink{}
