// Command shell runs the photoshell local service: it stages model
// assets, supervises the search backend, and serves the renderer's
// loopback IPC surface.
package main
