// ABOUTME: Package documentation for the store package.
// ABOUTME: Describes durable credential and protocol key persistence.

// Package store persists the relay's network credentials, per-type
// protocol key material, and agent session tokens in SQLite.
//
// The durable layer is SQLiteStore; NewCachedStore wraps it with an
// in-memory write-through cache so hot protocol key lookups on the
// receive path do not touch the database. The credentials payload can
// be encrypted at rest with a secret passed to NewSQLiteStore.
package store
