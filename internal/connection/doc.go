// Package connection implements the realtime transport client.
//
// A Client owns one WebSocket connection and multiplexes any number of
// channel subscriptions over it:
//   - Lifecycle manager: CONNECTING / CONNECTED / DISCONNECTED / ERROR, with
//     reconnection on exponential backoff until Disconnect
//   - Multiplexer: routes each inbound frame to the handlers of its channel
//   - Outbound queue: Send never fails because the connection is down; frames
//     are queued and flushed in order on the next connect
//   - Heartbeat: periodic liveness frames while connected
//
// Consumers share one Client per process through a Provider (see Instance).
package connection
