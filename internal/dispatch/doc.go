// Package dispatch fans an article out to its configured targets.
//
// Every (article, target) pair gets a durable publish record before the
// first remote call; the dispatcher owns the record lifecycle end to
// end. Targets are independent: one target failing never aborts the
// others, and batch aggregation happens only after every target has
// settled.
package dispatch
