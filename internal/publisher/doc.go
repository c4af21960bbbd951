// Package publisher defines the capability contract every publishing
// target implements, plus the registry that holds the live set of
// configured targets.
//
// A Publisher adapts one external platform: it validates and converts an
// article into the platform's shape, performs the remote publish call,
// and can later pull back engagement counters. All remote failures are
// reported as an Outcome value (never as a panic across this boundary).
package publisher
