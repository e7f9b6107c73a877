// Package http exposes the shell's loopback IPC surface to the
// renderer: backend health and lifecycle, asset staging, directory
// grants, library listing and privileged file serving.
package http
