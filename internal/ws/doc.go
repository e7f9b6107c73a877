// Package ws streams backend health snapshots to the renderer over a
// WebSocket so the UI reflects backend state without polling.
package ws
