// Package harness runs delta scenarios against a fresh store.
//
// A scenario is a sequence of delta messages and a set of assertions on
// the state they leave behind. Each run drives the real engine with a
// deterministic clock and a fixed session id, journals every message to an
// in-memory database, and replays the journal twice to check that the
// final state is reproducible.
//
// # Scenario Format
//
//	name: job_order
//	description: "Latest job is the highest submit number"
//	flat: false
//	steps:
//	  - added:
//	      workflow: { id: w1, status: running }
//	      familyProxies: [{ id: "w1//1/root", state: running }]
//	      taskProxies: [{ id: "w1//1/t1", state: running }]
//	  - added:
//	      jobs:
//	        - { id: "w1//1/t1/01", submitNum: 1, state: failed }
//	        - { id: "w1//1/t1/02", submitNum: 2, state: running }
//	assertions:
//	  - type: latest_job
//	    node: "w1//1/t1"
//	    expect: "w1//1/t1/02"
//
// Each step holds the added, updated and pruned sets of one message in
// the wire shape the server sends.
//
// # Assertion Types
//
//   - field: a field of node equals expect (dotted paths allowed)
//   - present: every id in ids is in the store
//   - absent: no id in ids is in the store
//   - count: the store holds count entities of entity type
//   - latest_job: the latest job of task node is expect ("" for none)
//   - previous_job: the previous job of task node is expect ("" for none)
//   - children: the ordered child ids of node equal ids
//   - visible: node's visibility under filter equals visible
//
// # Golden Files
//
// RunWithGolden compares the rendered final tree with
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
