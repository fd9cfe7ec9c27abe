/*
Package measure is the timing loop run by every worker.

# Meta-repetition

For each meta-repetition of an alignment step the engine

 1. flushes the caches by reading a scratch buffer,
 2. allocates one buffer per vector at its alignment offset and fills it,
 3. waits at the barrier and times one kernel call (the overhead pass),
 4. waits at the barrier and times Repetitions kernel calls (the measured
    pass), with the uninterruptible window open around the calls,
 5. repeats 3 and 4 without barriers while any evaluator read a negative
    delta.

Start hooks run in declaration order. Stop hooks run in the same order, or in
reverse when eval-stack mode is on.

# Correction

After the step, each evaluator's overhead deltas are averaged and the mean is
subtracted from all its measured values, unless the evaluator declared
overhead irrelevant. Values that end up below zero are still reported, with
ProblemOverheadExceedsSignal. Results are then converted to the evaluator's
display unit: raw, per iteration or per call.
*/
package measure
