// Package agent runs the remote debugging session engine.
//
// Ownership boundary:
//   - Session: connection lifecycle, forwarding gate, reconnect policy,
//     outbound/inbound queues, chunk reassembly, plugin dispatch
//   - Orchestrator: at most one Session, pre-session buffering, identity
//     bootstrap, startup grace window, admin HTTP surface
//
// Each Session has one worker goroutine. It owns the transport message
// stream, the reconnect timer and both queue drains; producers only enqueue
// and signal it.
package agent
