// Package orbit is a client-side data framework that composes multiple
// sources (an in-memory store, a remote JSON:API server, a durable
// bolt-backed cache, …) and keeps them in sync through an immutable,
// append-only log of data-mutating transforms.
//
// The root package holds the wire-independent data model shared by every
// source: records, identities, relationship data, the nine record
// operations, transforms, and the error taxonomy. The mechanics that act on
// this data model — the event bus, task queue, transform log, record cache,
// query engine, source base and its capabilities, and the fork/merge/rebase
// protocol — live in the sub-packages under pkg/.
//
// identity.go, records, and the nine record operations together model data;
// everything else models behavior over that data.
package orbit
