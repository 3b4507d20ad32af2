// Package journal records bus events into a durable sink.
//
// Events are queued from the bus callback without blocking the channel's
// read loop. A single consumer drains the queue into batches, and batches
// are written when they fill up or when the flush interval passes. The
// Postgres sink appends rows with ON CONFLICT DO NOTHING, so a retried
// batch never duplicates entries.
package journal
