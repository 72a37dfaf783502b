package expr

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"

	"copyjit/pkg/types"
)

// MaxFuncID bounds the ids tracked by the function usage counters.
const MaxFuncID = 4096

// Function usage counters are a process-wide array of uint64, one per
// function id, shared by the interpreter and generated code.
var funcUsage struct {
	once sync.Once
	mem  []byte
	err  error
}

func usageCounters() ([]byte, error) {
	funcUsage.once.Do(func() {
		funcUsage.mem, funcUsage.err = mapAnon(MaxFuncID * 8)
	})
	return funcUsage.mem, funcUsage.err
}

// FuncUsageBase returns the address of the counter for function id 0.
func FuncUsageBase() (uintptr, error) {
	mem, err := usageCounters()
	if err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(&mem[0])), nil
}

func funcUsageCounter(id types.FuncID) (*uint64, error) {
	if id >= MaxFuncID {
		return nil, errors.Newf("function id %d outside usage table", id)
	}
	mem, err := usageCounters()
	if err != nil {
		return nil, err
	}
	return (*uint64)(unsafe.Pointer(&mem[int(id)*8])), nil
}

func countFuncUsage(id types.FuncID) error {
	c, err := funcUsageCounter(id)
	if err != nil {
		return err
	}
	atomic.AddUint64(c, 1)
	return nil
}

// FuncUsage returns how many tracked calls function id has received.
func FuncUsage(id types.FuncID) uint64 {
	c, err := funcUsageCounter(id)
	if err != nil {
		return 0
	}
	return atomic.LoadUint64(c)
}
