// Package assets stages bundled model assets into a writable location.
//
// A JSON manifest beside the read-only bundle names each model directory
// and its expected sha256 tree digest. Staging verifies before copying
// (skip is the common case), replaces stale copies, and verifies again
// after copying so a corrupt copy is never mistaken for success. Entries
// may ship as plain directories or as tar.gz/tar.zst archives.
package assets
