// Package dblock serializes integration tests that share one Postgres
// database across package test binaries.
package dblock

import (
	"net"
	"time"
)

const lockAddr = "127.0.0.1:45432"

// Acquire blocks until this process holds the lock and returns its release.
// The lock is a bound loopback port, so it is dropped if the process dies.
func Acquire() func() {
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
