// Package engine runs a delta session: the single-writer loop that takes
// messages from a subscription, journals them and applies them to the
// store.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Sources call Submit from their own goroutines; messages go onto an
// unbounded FIFO queue and Run applies them one at a time. This ensures:
// - Messages are applied strictly in arrival order
// - Each message is one store batch, so readers never see half a message
// - The journal and the store see the same order
//
// Message Processing Flow:
// 1. Submit enqueues the message (never blocks the transport)
// 2. Run dequeues it and stamps it with the next seq from the Clock
// 3. The message is appended to the journal, if one is configured
// 4. The message is applied to the store as one batch
// 5. Metrics and the apply hook observe the result
//
// Nothing in the loop is fatal. Journal failures and ignored records are
// logged and processing continues with the next message.
//
// Seq numbers come from a logical clock, never wall time, so a journaled
// session replays in exactly the order it was received.
package engine
