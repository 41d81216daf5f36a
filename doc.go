// SPDX-License-Identifier: GPL-3.0-or-later

// Package gnomecups executes IPP requests against a CUPS server.
//
// # Engine
//
// An [*Engine] runs requests on a bounded pool of worker goroutines over
// connections cached per server. Callers submit either an encoded IPP
// request ([*Engine.Submit]) or a file download ([*Engine.SubmitFile]) and
// receive the outcome through a [Callback]. Synchronous variants
// ([*Engine.Execute], [*Engine.GetFile]) block until the outcome is known.
//
// The engine is reference counted: every [*Engine.Init] must be matched by
// a [*Engine.Shutdown]. Resources exist between the first Init and the
// last Shutdown.
//
// # Delivery
//
// Each request is delivered in one of two ways, see [DeliveryMode]:
//
//   - [DeliverDeferred] posts the completion to the [MainContext]. Callbacks
//     never run concurrently with each other. By default the engine runs
//     its own [*Loop]; applications with an event loop set [Config.MainContext].
//
//   - [DeliverDirect] runs the completion in the worker goroutine.
//
// In both cases the callback runs first, then the [DestroyFunc], then the
// request is forgotten and stops counting in [*Engine.OutstandingCount].
//
// # Cancellation
//
// [*Engine.Cancel] only suppresses the callback. The request still runs to
// completion and its [DestroyFunc] still runs. Only the last Shutdown
// interrupts transport calls in flight.
//
// # Connections
//
// Requests for the same server share one [*Connection] and run one at a
// time on it. The transport connection is opened by the first worker that
// needs it; when opening fails, the request fails with [*ConnectError] and
// the next request tries again. After a transport failure, or once the
// server announces it is closing the connection (see [ReusableConn]), the
// connection is reopened on next use. A kept connection that fails before
// any response arrives is reopened at once and the call is repeated once. A reclaimer closes connections that no request
// references and that have been idle for [Config.ConnectionIdleTimeout];
// another one stops idle workers every [Config.WorkerReclaimInterval].
//
// # Transport
//
// [*HTTPTransport] opens connections by composing [Func] stages with
// [Compose3] or [Compose4]: [*ResolveFunc], [*ConnectFunc], optionally
// [*TLSHandshakeFunc], and [*IPPConnFunc]. Server names may be resolved
// with the system resolver or a [*DNSOverUDPResolver].
//
// # Observability
//
// All components log through [SLogger] (compatible with [log/slog]). By
// default logging is disabled. Events come in *Start/*Done pairs carrying
// t0, t, err and errClass, plus one-shot events such as requestSubmit and
// connectionReclaim. Every request gets a span ID from [NewSpanID] that is
// attached to all the events it causes.
//
// Engine metrics are reported to a [Collector]; see [NewPrometheusCollector].
package gnomecups
