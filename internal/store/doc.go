// Package store provides the normalized entity store that mirrors a
// workflow's delta stream.
//
// The store is an arena of nodes indexed by id. Each node carries an
// explicit parent id and an ordered list of child ids; there are no live
// object references between nodes, so re-parenting and pruning never leave
// stale pointers behind.
//
// # Hierarchy
//
//	workflow
//	  └─ cycle (family proxy named "root")
//	       └─ family proxy ...
//	            └─ task proxy
//	                 └─ job (ordered by submitNum, latest first)
//
// A node's logical parent comes from its record (firstParent, ancestors,
// or the id itself for jobs). When the logical parent is not present yet
// the node attaches to the nearest existing fallback (the surviving
// ancestor of a pruned parent, the cycle root, then the workflow) and
// moves under its logical parent as soon as that arrives.
//
// # Batches
//
// Apply handles one delta message as a single batch under one write lock:
// reload invalidation first, then added, then updated, then pruned.
// Readers never observe a half-applied message, and observers registered
// with Watch are notified once per batch.
//
// # Anomalies
//
// Nothing here is fatal. Updates for unknown ids are logged and ignored,
// prunes of absent ids are no-ops, and records without an id are skipped.
// Jobs that arrive for an already pruned task are dropped.
// Each anomaly is reported in Result.Issues as a *StoreError.
package store
