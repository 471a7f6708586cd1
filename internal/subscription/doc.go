// Package subscription delivers delta messages from a workflow server into
// a Sink.
//
// Two sources are provided. GraphQLClient speaks the graphql-transport-ws
// protocol over a websocket and issues a deltas subscription built from
// the fragments in this package. NATSSource consumes the same delta JSON
// republished on NATS subjects.
//
// Neither source reconnects. A transport failure ends Run with an error
// and the store keeps its last known state.
package subscription
