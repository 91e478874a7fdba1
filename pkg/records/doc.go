// Package records provides the shared vocabulary of the collaborative editing layer:
// record keys, identities and lock holders, lock tokens, and the change events that
// arrive on the realtime channel.
//
// The package has no dependencies on the rest of livesync so that transport, lock,
// and session packages can all refer to the same types without import cycles.
package records
