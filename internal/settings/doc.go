// Package settings persists user-granted directory allowlists and
// selection history to a JSON file in the shell's data directory.
package settings
