// Package gateway implements path containment for the shell's filesystem
// allowlist.
//
// Every external filesystem touch (custom protocol, directory listing,
// model staging) must resolve through this package. A candidate path is
// permitted iff, after OS normalization, it equals an allowed root or
// begins with that root followed by the platform separator. Relative
// inputs are rejected before any comparison.
package gateway
