// primcheck - smoke-checks a primer environment end to end
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/garbageslam/lua-primer/config"
	"github.com/garbageslam/lua-primer/primer"
	"github.com/garbageslam/lua-primer/vm"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 quiet, higher is louder)")
	configDir := flag.String("config", "", "Directory containing primer.toml (defaults used when empty)")
	dump := flag.Bool("dump", false, "Print the canonical encoding of the sample table")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: primcheck [options]\n\n")
		fmt.Fprintf(os.Stderr, "Builds an environment, exercises protected calls, a coroutine, and\n")
		fmt.Fprintf(os.Stderr, "the value codec, and reports what it finds.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	cfg := config.Default()
	if *configDir != "" {
		var err error
		cfg, err = config.Load(*configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	e := vm.NewEnv(cfg)
	defer e.Close()

	if err := run(e, *dump); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func run(e *vm.Env, dump bool) error {
	if err := checkCall(e); err != nil {
		return err
	}
	if err := checkCoroutine(e); err != nil {
		return err
	}
	return checkCodec(e, dump)
}

// checkCall binds a host function and invokes it protected, both the
// success path and the error path.
func checkCall(e *vm.Env) error {
	if err := e.PushGoFunction("sum", func(e *vm.Env) int {
		var total int64
		for i := 1; i <= e.Top(); i++ {
			r := primer.ReadInt(e, i)
			if r.IsFailure() {
				e.RaiseError("%s", r.Err().PrependLine("bad argument %d to 'sum':", i))
			}
			total += r.Value()
		}
		e.PushInt(total)
		return 1
	}); err != nil {
		return err
	}
	sum, perr := primer.BindFunction(e).Unpack()
	if perr != nil {
		return perr
	}

	r := sum.CallOneRet(1, 2, 3)
	if r.IsFailure() {
		return r.Err()
	}
	if !r.Value().Push(e) {
		return fmt.Errorf("result token would not push")
	}
	got, gerr := primer.ReadInt(e, -1).Unpack()
	e.Pop(1)
	if gerr != nil {
		return gerr
	}
	if got != 6 {
		return fmt.Errorf("sum(1, 2, 3) = %d", got)
	}
	fmt.Printf("call: sum(1, 2, 3) = %d\n", got)

	// The error path must come back as a value, with context.
	if bad := sum.CallNoRet("not a number"); bad.IsSuccess() {
		return fmt.Errorf("call with a bad argument succeeded")
	} else {
		fmt.Printf("call error (expected):\n  %s\n", bad.Err().Lines()[0])
	}
	return nil
}

// checkCoroutine drives a counter that yields twice.
func checkCoroutine(e *vm.Env) error {
	if err := e.PushGoFunction("counter", func(e *vm.Env) int {
		n := e.At(1).SmallInt()
		for i := int64(1); i <= 2; i++ {
			e.PushInt(n + i)
			e.Pop(e.Yield(1))
		}
		e.PushInt(n + 3)
		return 1
	}); err != nil {
		return err
	}
	fn, perr := primer.BindFunction(e).Unpack()
	if perr != nil {
		return perr
	}
	co, perr := primer.NewCoroutine(fn).Unpack()
	if perr != nil {
		return perr
	}

	te := co.Thread().Env()
	args := []any{int64(10)}
	for co.Status() != vm.ThreadDone {
		r := co.ResumeOneRet(args...)
		if r.IsFailure() {
			return r.Err()
		}
		args = nil
		r.Value().Push(te)
		fmt.Printf("coroutine (%s): %d\n", co.Status(), te.At(-1).SmallInt())
		te.Pop(1)
	}
	return nil
}

// checkCodec round-trips a table through the canonical encoding.
func checkCodec(e *vm.Env, dump bool) error {
	if err := e.CreateTable(); err != nil {
		return err
	}
	if err := e.PushString("primcheck"); err != nil {
		return err
	}
	e.SetField(-2, "name")
	e.PushInt(3)
	e.SetField(-2, "checks")

	data, err := e.DumpValue(-1)
	if err != nil {
		return err
	}
	e.Pop(1)
	if dump {
		fmt.Printf("codec: %s\n", hex.EncodeToString(data))
	}

	if err := e.LoadValue(data); err != nil {
		return err
	}
	e.GetField(-1, "checks")
	n, perr := primer.ReadInt(e, -1).Unpack()
	e.Pop(2)
	if perr != nil {
		return perr
	}
	if n != 3 {
		return fmt.Errorf("codec round trip lost a field: checks = %d", n)
	}
	fmt.Printf("codec: %d bytes, round trip intact\n", len(data))
	return nil
}
