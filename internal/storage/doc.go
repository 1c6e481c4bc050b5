// Package storage manages the durable area nodes persist snapshots into.
//
// The layout is owned by the node processes: one directory per node named
// <host>_<port> below the configured root. The harness clears the root
// before a fresh run (idempotently) and can list it for post-run
// inspection; it never reads or writes a node's files otherwise.
package storage
