// Package library enumerates displayable images under user-granted
// directories.
package library
