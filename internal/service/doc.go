package service

// Package service implements supervision of the agent subprocess.
//
// Overview
// Runner is a thin, opinionated wrapper around os/exec:
//   - starts the process, at most one at a time
//   - reads stdout and stderr in a goroutine each (errgroup)
//   - exposes their output as a lazy sequence of line aligned Chunks
//   - waits for the process only after both streams reached EOF
//   - terminates the process with SIGTERM when the context is cancelled
//
// Supervisor builds the agent command line and environment from a
// model.JobRequest, drains the Chunks through a callback and maps the exit
// status to a model.Outcome.
//
// Data flow:
//
//   Supervisor                 Runner                  Process
//       |  Validate()             |                       |
//       |  Start(Command) ------->| os/exec.Start ------->|
//       |                         |                       | read(stdout) read(stderr)
//       |<------------- Chunks() -------------------------|
//       |  Wait() --------------------------------------->| cmd.Wait after EOF
//       |<------------- Result ---------------------------|
//       |  outcome.Classify
//
// Invariants:
//   - At most one active Process per Runner; Start returns ErrJobInProgress.
//   - Each Process produces exactly one Result.
//   - Result.Cancelled is true iff termination was requested before the exit
//     was observed; cancellation wins over any exit code.
//   - No forced kill unless Command.KillAfter is set.
//   - Chunk order is preserved within a stream, not across streams.
//
// internal/service/service_test.go is the best source about how to use
// Supervisor.
