// Package pipeline orchestrates the geo-compliance screening run.
//
// # Overview
//
// A run takes one feature description through up to four stages and
// produces an auditable YES/NO/REVIEW decision:
//
//	START → SCREENING → {RESEARCH | VALIDATION} → VALIDATION → COMPLETE
//
// Screening grades regulatory exposure and decides whether the
// regulation corpus should be consulted. Research retrieves and scores
// evidence. Validation issues the final decision, citing only retrieved
// evidence. Learning is a separate entry point that runs only when a
// reviewer submits feedback on a finished run:
//
//	feedback → LEARNING → COMPLETE
//
// # State and patches
//
// State is the single shared record of a run. Stages never write it
// directly: each returns a Patch covering only the fields it owns, and
// the runner merges patches last-writer-wins. The session ID and start
// timestamp are assigned idempotently when a run enters the graph.
//
// # Failure policy
//
// Stages degrade internally wherever possible: a screening failure
// yields an ERROR-level analysis routed straight to validation, a
// research failure yields empty evidence, and validation converts every
// malformed model response into a REVIEW decision. An error returned by
// a stage despite that is absorbed by the runner: the run still reaches
// COMPLETE with the failure recorded on the state. The one fatal
// precondition is learning without a validation analysis, which returns
// a StageError of kind ErrorKindPrecondition to the caller.
//
// Concurrent runs are independent; they share only the memory store
// behind the stages, which serializes its own writes.
package pipeline
