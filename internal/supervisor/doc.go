/*
Package supervisor owns the AI backend child process lifecycle.

# Overview

The supervisor finds a free port, spawns the backend with an ephemeral
auth token injected through the environment, polls its liveness
endpoints with increasing backoff until ready, and watches for exit. A
crash is never retried automatically: the health monitor notifies the UI
and a human decides whether to restart.

# State machine

	Stopped -> Starting -> Running -> Stopped (exit/error)

Concurrent Ensure calls during Starting await the same in-flight start;
exactly one child process exists at any time.

# Health

Monitor polls the running backend every few seconds through a circuit
breaker, producing Snapshots consumed by the UI notification channel.
When the backend is down the monitor short-circuits to a skipped
snapshot without network calls.
*/
package supervisor
