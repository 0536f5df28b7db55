package greenrt_test

import (
	"context"
	"fmt"
	"time"

	greenrt "github.com/Swind/go-greenrt"
	"github.com/Swind/go-greenrt/config"
	"github.com/Swind/go-greenrt/core"
)

func newExampleRuntime(threads int) *greenrt.Runtime {
	cfg := config.Default()
	cfg.Threads = threads
	r, err := greenrt.New(cfg, greenrt.WithLogger(core.NewNoOpLogger()))
	if err != nil {
		panic(err)
	}
	return r
}

// Example_spawn runs a root task that waits on its children through a tube.
func Example_spawn() {
	r := newExampleRuntime(2)
	defer r.Close()

	code := r.Run(context.Background(), func(ctx context.Context) {
		results := greenrt.NewTube[int]()
		for i := 1; i <= 3; i++ {
			greenrt.Spawn(ctx, func(ctx context.Context) {
				greenrt.Sleep(ctx, time.Duration(i)*10*time.Millisecond)
				results.Send(i * i)
			})
		}
		sum := 0
		for i := 0; i < 3; i++ {
			v, _ := results.Recv(ctx)
			sum += v
		}
		fmt.Println("sum:", sum)
	})
	fmt.Println("exit:", code)

	// Output:
	// sum: 14
	// exit: 0
}

// Example_exitStatus shows how a successful tree chooses its exit code.
func Example_exitStatus() {
	r := newExampleRuntime(1)
	defer r.Close()

	code := r.Run(context.Background(), func(ctx context.Context) {
		greenrt.SetExitStatus(ctx, 3)
	})
	fmt.Println("exit:", code)

	// Output:
	// exit: 3
}

// Example_yield interleaves two tasks on one scheduler.
func Example_yield() {
	r := newExampleRuntime(1)
	defer r.Close()

	r.Run(context.Background(), func(ctx context.Context) {
		for _, name := range []string{"a", "b"} {
			greenrt.Spawn(ctx, func(ctx context.Context) {
				for i := 0; i < 2; i++ {
					fmt.Println(name, i)
					greenrt.Yield(ctx)
				}
			})
		}
	})

	// Output:
	// a 0
	// b 0
	// a 1
	// b 1
}
