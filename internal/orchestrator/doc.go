/*
Package orchestrator starts a benchmark fleet and keeps it in lockstep.

# Launcher

Launcher.Run validates the experiment (or restores it from its checkpoint),
spawns one worker per configured process and drives the barrier for exactly
the number of rounds the workers will enter. Every worker is then reaped;
a worker that exits abnormally is logged and counted but never stops its
siblings.

Worker 0 prints results and writes the checkpoint. With all-print-out every
worker prints to its own file.

# Workers

In production each worker is the same binary re-executed with the hidden
worker subcommand:

	fd 3  ready channel (write end)
	fd 4  release channel (read end)
	fd 5  JSON snapshot of the WorkerSpec, closed after writing

The workers share a process group, so a fatal notification from any of them
lets the orchestrator kill the whole fleet at once.

# Stopping

SIGTERM or SIGINT to the orchestrator, or cancelling the context passed to
Run, forwards SIGTERM to the workers. Each finishes its current alignment
step, writes its checkpoint and exits.
*/
package orchestrator
