// Package storage persists publish records and batches.
//
// The dispatcher exclusively owns the record/batch lifecycle: records
// are created already in their starting state inside one transaction,
// transitions are guarded so terminal states are never re-entered, and
// nothing here deletes rows (cleanup is an administrative action outside
// the core).
package storage
