// Package journal provides SQLite-backed durable storage of received delta
// messages.
//
// The journal is an append-only log with:
//   - Sessions: one subscription run (source, workflows, engine version)
//   - Deltas: every message of a session, stamped with its logical seq
//
// # Ordering
//
// All ordering uses seq INTEGER (the engine's logical clock), never wall
// time. Reads use ORDER BY seq ASC so a replay applies messages in the
// order they arrived. UNIQUE(session_id, seq) makes appends idempotent.
//
// # Payloads
//
// Messages are stored as canonical JSON with a domain-separated digest
// (see model.EncodeDelta and model.DeltaDigest). The digest is checked on
// read so a damaged row is reported instead of silently replayed.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package journal
