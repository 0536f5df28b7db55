// Package greenrt provides an M:N green-thread runtime for Go.
//
// Many lightweight tasks are multiplexed onto a small, fixed set of
// schedulers, each pinned to its own OS thread. Tasks run cooperatively:
// a task keeps its scheduler until it finishes, yields, or blocks on an
// event. Every task runs on a pooled stack segment that is returned to the
// pool of whichever scheduler the task died on.
//
// # Quick Start
//
// Run a root task and exit with the tree's status:
//
//	func main() {
//		os.Exit(greenrt.Run(func(ctx context.Context) {
//			for i := 0; i < 10; i++ {
//				greenrt.Spawn(ctx, func(ctx context.Context) {
//					greenrt.Sleep(ctx, 10*time.Millisecond)
//				})
//			}
//		}))
//	}
//
// # Key Concepts
//
// Scheduler: owns a private run queue, an inbox, an event loop and a stack
// pool. All schedulers of a Runtime share one work queue and one sleeper
// list. An idle scheduler publishes itself as a sleeper; producers pop a
// sleeper and wake it after pushing work.
//
// Task: a body plus a stack. Spawn links the new task into its parent's
// death tree. A task's exit callback fires only after its body and every
// descendant have finished, with success false if any of them panicked.
//
// Event loop: each scheduler waits on its own loop. Timers, file descriptor
// readiness and blocking work handed to the offload pool all complete the
// waiting task back onto the scheduler that registered them.
//
// # Exit Status
//
// Run returns 0 when the tree succeeds. A task may call SetExitStatus to
// choose another code for a successful run. A failed tree always yields
// DefaultErrorCode.
//
// # Configuration
//
// New takes a config.Config, loadable from YAML or JSON and overridable
// through GREENRT_* environment variables. See the config package.
package greenrt
