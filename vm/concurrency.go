package vm

import (
	"limit/ast"
	taskpool "limit/runtime"
	"sync"
)

// schedulerFuture is the concrete Future type a Task waits on; aliased so
// value.go doesn't need to import the runtime package directly.
type schedulerFuture = taskpool.Future

// blockScope is one active parallel/concurrent block: its worker pool, the
// error policy tasks submitted into it should honor, and the first failure
// seen so far (onError=Stop aborts the block on it; onError=Continue just
// records it and keeps going).
type blockScope struct {
	pool    *taskpool.Pool
	policy  ast.OnErrorPolicy
	mu      sync.Mutex
	failure error
}

func (b *blockScope) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failure == nil {
		b.failure = err
	}
}

// beginBlock pushes a new parallel/concurrent scope. cores <= 0 means Auto
// (NumCPU-sized); unbounded is true for `concurrent` blocks, which fan every
// task out onto its own goroutine rather than capping in-flight work.
func (vm *VM) beginBlock(cores int, policy ast.OnErrorPolicy, unbounded bool) {
	size := cores
	if size < 0 {
		size = 0
	}
	if unbounded {
		size = -1
	}
	vm.pools = append(vm.pools, &blockScope{pool: taskpool.NewPool(size), policy: policy})
}

// endBlock waits for every task submitted to the innermost block to finish,
// then reports its first failure if onError=Stop called for one (Continue
// swallows per-task failures and only surfaces a successful drain).
func (vm *VM) endBlock() error {
	n := len(vm.pools)
	block := vm.pools[n-1]
	vm.pools = vm.pools[:n-1]
	block.pool.Wait()
	if block.policy == ast.PolicyContinue {
		return nil
	}
	return block.failure
}

// submitTask hands fn to the innermost active block's pool (or, for a bare
// `task expr;` outside any parallel/concurrent block, an ad-hoc unbounded
// pool) and returns the Task handle OP_AWAIT later blocks on.
func (vm *VM) submitTask(fn FunctionValue) *Task {
	var block *blockScope
	if len(vm.pools) > 0 {
		block = vm.pools[len(vm.pools)-1]
	} else {
		block = &blockScope{pool: taskpool.NewPool(-1), policy: ast.PolicyStop}
	}
	future := block.pool.Submit(func() (any, error) {
		result, err := vm.runChildFunction(fn)
		if err != nil {
			block.recordFailure(err)
		}
		return result, err
	})
	return &Task{future: future}
}
