// Package imaging adapts inline article images to a target's declared
// (width, height, max-file-size, format) spec.
//
// Remote references are fetched once and cached for the duration of one
// dispatch; local/relative references resolve against the configured
// upload root. Adapted images are written under the output dir and the
// reference is rewritten to the new file.
package imaging
