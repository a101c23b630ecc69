// Package assert holds the builder's invariant checks. A failed assertion
// means the caller or the builder itself violated a layout invariant that
// has no recovery path — the corpus's linkers (rvld, simple-linker) call
// these fatal and os.Exit; a library embedded in a long-running compiler
// instead panics so the embedding process can decide whether to recover.
package assert

import "fmt"

// True panics with msg if condition is false.
func True(condition bool, msg string, args ...any) {
	if !condition {
		panic("elfimage: invariant violated: " + fmt.Sprintf(msg, args...))
	}
}

// NoError panics if err is non-nil, wrapping it with msg.
func NoError(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("elfimage: %s: %v", msg, err))
	}
}
