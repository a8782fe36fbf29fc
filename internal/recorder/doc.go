// Package recorder persists messages received on the realtime connection.
//
// The recorder subscribes to a set of channels and writes every message it
// sees to the realtime_messages table in batches, keyed by message id so a
// message delivered twice is stored once. Recording is append-only and runs
// entirely on the consumer side of the connection: handlers only enqueue, so
// a slow database never stalls dispatch.
package recorder
