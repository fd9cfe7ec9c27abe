// Package checkpoint saves and restores the progress of an experiment.
//
// A checkpoint directory holds two line-oriented files of "key= value" pairs:
//
//	experiment.ckpt   the full experiment configuration, written once
//	progress.ckpt     the next position to run, rewritten after every step
//
// Keeping the fast-changing counters apart from the configuration makes the
// per-step write small. Strings are quoted with strconv.Quote; ranges are
// written as "start stop step"; lists use indexed keys (alignment.0,
// alignment.1, ...). Unknown keys, duplicate keys and unparsable values are
// rejected with ErrMalformed, since resuming from a damaged file would
// silently re-run or skip work.
package checkpoint
