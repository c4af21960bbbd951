// Package content is the deterministic, side-effect-free adaptation
// pipeline applied before every publish attempt: markup conversion
// (rich HTML <-> structured plain text), title truncation to the
// target's limit, and inline image rewriting via the imaging
// collaborator.
package content
