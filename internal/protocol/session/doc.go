// Package session owns the session-level protocol helpers shared by the agent.
//
// Ownership boundary:
// - session details and connection url derivation
// - close-code to connection-error mapping
// - bounded event queues
// - reconnect backoff and transport reliability config
package session
