// Package queue moves requests from the inbox to the adapter.
//
// Each step scans the inbox, merges newly ingested records into the
// in-memory table and makes one dispatch pass over every key the table
// holds. During a pass each record is, in priority order:
//   - failed and alive: answered with the fixed error document
//   - alive: claimed and handed to the adapter
//   - resolved and older than the retention window: dropped from the table
//   - otherwise left alone
//
// A record is claimed before its adapter call, so it is dispatched at most
// once even when passes overlap. Resolved records stay in the table until
// they expire, which keeps a producer from re-submitting the same key while
// its answer is still fresh.
//
// Timing:
//   - The poll controller sets the sleep between steps
//   - Every newly staged file triggers a burst of fast polls
//   - Archive and ledger pruning run between steps at most once per
//     prune interval
//
// The table is lost when the process exits. Requests already moved out of
// the inbox are not redelivered.
package queue
