// Package durable runs ordinary Go workflow code so that it survives process
// termination without re-running steps that already completed.
//
// Workflow code calls Step (or Do) for every side effect and Parallel or
// ForEach for concurrent fan-out. Each call is assigned a sequence number in
// the order it is reached; the step's identity is (execution ID, label,
// sequence). The executor looks that identity up in a store.Store and either
// returns the recorded result or runs the work and records its outcome.
//
// Resuming a crashed execution is simply running the same workflow again
// with the same execution ID:
//
//	eng, err := durable.New(store.NewMemStore())
//	if err != nil {
//	    return err
//	}
//
//	wf := func(ctx context.Context, p *durable.Pass) (string, error) {
//	    id, err := durable.Step(ctx, p, "create_account", createAccount)
//	    if err != nil {
//	        return "", err
//	    }
//	    return id, durable.Do(ctx, p, "send_welcome", func(ctx context.Context) error {
//	        return sendWelcome(ctx, id)
//	    })
//	}
//
//	sig := durable.InterruptOnDone(ctx)
//	id, err := durable.Run(ctx, eng, "onboard-42", sig, wf)
//	switch durable.Classify(err) {
//	case durable.OutcomeInterrupted:
//	    // crash simulated or process stopping; run again later
//	case durable.OutcomeStepFailure:
//	    // a step's work returned an error
//	}
//
// Determinism: the order in which a workflow reaches its steps must depend
// only on its inputs and on step results. Branching on wall-clock time,
// unseeded randomness or the environment outside a step shifts sequence
// numbers between passes and breaks memoization. With strict replay enabled
// (the default) the executor detects a label change at a recorded sequence
// and fails the pass with ErrReplayMismatch.
//
// Guarantees: a COMPLETED step never runs again. A step interrupted between
// finishing its work and committing the result (the zombie window) is left
// RUNNING and re-run on the next pass, so side effects are at-least-once.
// Work that needs exactly-once effects must carry its own idempotency key.
package durable
