package control

import (
	"runtime"
	"testing"
	"time"
)

func runtimeYield() {
	runtime.Gosched()
	time.Sleep(time.Millisecond)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
