/*
Package experiment describes what a launch measures and in which order.

# Configuration

Config is loaded from a YAML or TOML file (LoadFile), overridden by command
line flags, and checked once by Validate before any worker exists. Validation
errors wrap ErrInvalidConfig.

# Enumeration

The space is an outer sweep over vector sizes and, per size, a mixed-radix
counter over one alignment range per vector. Vector N-1 is the least
significant digit:

	vectors (0,1,1) (0,2,1)  ->  [0 0] [0 1] [0 2] [1 0] [1 1] [1 2]

TotalRuns is the product of the range counts times the size count, plus one
when a verification pass is configured. BarrierRounds derives the number of
barrier rounds from it, which the orchestrator and every worker must agree on.

# Resume

A ResumeState holds a position read back from a checkpoint. Walk consumes it
once, so the saved position seeds the walk at exactly one loop level.
*/
package experiment
