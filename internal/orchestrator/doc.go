// Package orchestrator runs a fixed, ordinal-ordered sequence of pipeline
// stages, one turn-taking loop per stage.
//
// The orchestrator is a straight line, not a DAG: stage N+1 never starts
// before stage N has completed, exhausted its budget or failed. Stages share
// nothing but their order; any cross-stage data flows through capabilities
// (for example the artifact store). When a stage does not complete the
// configured Policy decides whether the run halts or continues, and the
// failure is always reported.
//
// Basic usage:
//
//	orch := orchestrator.New(lp, table,
//		orchestrator.WithLogger(logger),
//		orchestrator.WithRecorder(db),
//	)
//	report, err := orch.Run(ctx, tasks)
package orchestrator
