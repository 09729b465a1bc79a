// Package tui provides the terminal progress view for lakeforge pipeline runs.
//
// The view is read-only. It renders the planned stages, the running stage's
// iteration and last action, and a short activity log, fed by orchestrator
// events. Quitting before the run is over calls the onQuit callback, which
// the CLI uses to cancel the run.
//
// Usage:
//
//	emitter := orchestrator.NewEventEmitter(256, logger)
//	program, _ := tui.NewPipelineProgram("pipeline", planned, emitter.Events(), cancel)
//	go func() {
//	    report, err := orch.Run(ctx, tasks)
//	    emitter.Close()
//	    program.Send(tui.DoneMsg{Report: report, Err: err})
//	}()
//	_, err := program.Run()
package tui
