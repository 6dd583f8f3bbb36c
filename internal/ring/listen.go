package ring

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/portmapping/go-reuse"
)

// Listen binds a well-known address with SO_REUSEADDR so a restarted
// process can rebind its port immediately, without waiting out TIME_WAIT
// sockets left by a crash.
func Listen(addr string) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	ln, err := reuse.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections until the listener closes, handing each to
// accept on its own goroutine. It returns once Accept fails permanently
// (listener closed).
func Serve(ln net.Listener, accept func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go accept(conn)
	}
}

// Dial makes a single connection attempt.
func Dial(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, 2*time.Second)
}

// DialRetry dials with a fixed backoff between attempts, for peers that
// may simply not be up yet. attempts <= 0 means a single try.
func DialRetry(addr string, backoff time.Duration, attempts int) (net.Conn, error) {
	var lastErr error
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(backoff)
		}
		conn, err := Dial(addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Printf("dial %s: attempt %d/%d failed: %v", addr, i+1, attempts, err)
	}
	return nil, lastErr
}
