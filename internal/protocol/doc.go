// Package protocol resolves photoapp:// URIs to allowlisted files for
// the privileged fetch handler.
package protocol
