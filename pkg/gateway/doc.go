// Package gateway implements the resilient client runtime for the agent
// execution gateway. It maintains a single authenticated WebSocket to the
// gateway, correlates concurrent RPC calls over that shared connection,
// reconnects with exponential backoff, and applies per-call retry, circuit
// breaking, and sliding-window rate limiting.
//
// Callers interact through Client.Call and Client.Subscribe; everything else
// in this package exists to keep those two operations safe under connection
// loss, overload, and duplicate submission.
package gateway
