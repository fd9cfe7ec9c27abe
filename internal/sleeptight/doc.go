/*
Package sleeptight handles the signals a long benchmark run receives.

# Pause, wake, stop

A worker's Controller listens for

	SIGUSR1  sleep before the next repetition pass
	SIGUSR2  wake up
	SIGTERM  finish the current alignment step, checkpoint and exit

The measurement engine calls WaitAwake before every pass and Stopping after
every alignment step.

# Fatal protocol

A worker that panics runs Guard.Recover: it logs the failure, sends
FatalSignal (signal 40) to its parent and exits 1. The orchestrator watches
for FatalSignal with WatchFatal and kills the whole worker process group.
*/
package sleeptight
