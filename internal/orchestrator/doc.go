// Package orchestrator runs a data-analysis task against a notebook as a
// plan of steps.
//
// # Overview
//
// The Orchestrator asks a Reasoner for a plan, then executes the plan's
// steps in order through an Executor. Each step is a list of tool calls:
//
//	RunCode      create or update a code cell and execute it
//	Annotate     write a markdown cell
//	DeclareDone  end the task with a final answer
//
// # Control Loop
//
//	idle → planning → planned → executing → completed | failed
//
// While executing, a step moves through tool_calling, validating,
// verifying and reflecting. A failed step moves to replanning: the Reasoner
// returns one of four decisions (refine, insert_steps, replace_step,
// replan_remaining), the plan is revised and the same step index is tried
// again. Replanning is capped per episode of consecutive failures; the
// counter resets after any successful step.
//
// # Gates
//
// Before a RunCode call executes, gates inspect the code and report
// violations:
//   - SafetyGate: blocked patterns and hard-coded secrets (critical)
//   - ValidationGate: static checks by the Reasoner (error or warning)
//
// A critical violation fails the task without replanning. An error
// violation fails the step and goes to replanning. Warnings are logged.
//
// # After Each Step
//
// A successful step is checkpointed (see package checkpoint), its
// post-state is scored (see package verifier) and the Reasoner reflects on
// it. Only an escalate recommendation from the verifier aborts the task.
// Reflection recommending retry or replan is handed to the next replan
// request as a hint.
//
// # Pacing
//
// Speed presets insert a delay between successful steps. The manual preset
// waits for Proceed.
//
// # Concurrency
//
// One task runs at a time. ExecuteTask returns ErrAlreadyRunning while a
// task is active. Cancel, Proceed and SetSpeed are safe to call from other
// goroutines.
package orchestrator
