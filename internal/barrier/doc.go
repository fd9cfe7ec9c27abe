/*
Package barrier phase-aligns worker processes around a measurement window.

# Protocol

Every worker owns two pipes: ready (worker to orchestrator) and release
(orchestrator to worker). One round is:

	worker i:     write token on ready[i], block reading release[i]
	coordinator:  read a token from ready[0..K-1], then write one to release[0..K-1]

The coordinator writes nothing until it has read from every worker, so no
worker enters its timed section while another is still setting up.

Interrupted reads and writes are retried. A worker whose channel hits end of
file has exited and is dropped from later rounds; any other failure ends the
run and closes every channel.

# Kill switch

A sentinel file (DefaultKillFile unless configured) is checked on every
Worker.Wait and at the orchestrator's supervisory points. Its presence exits
the process with status 1.
*/
package barrier
