// Package server wires the shell together: configuration, logging,
// metrics, the directory allowlist, model asset staging, the backend
// supervisor and health monitor, and the loopback IPC router.
//
// Startup order matters:
//  1. Load configuration and build the logger.
//  2. Open the settings store and seed the directory allowlist.
//  3. Stage model assets (failures degrade, they do not abort).
//  4. Select the backend port and spawn the backend (spawn failures
//     abort; a missed readiness window only degrades).
//  5. Start the health monitor and serve the IPC surface.
package server
