// Package main implements the gelato screen service: the customer-facing
// order intake, one member of the screen ring.
//
// The screen reads its orders file, captures payment for each order,
// submits captured orders to the robot leader, and settles or voids the
// payment when the outcome arrives. It mirrors its pending orders to its
// ring successor on every change, and adopts its predecessor's orders if
// that screen dies.
//
// Usage:
//
//	screen <id> <orders-file>
//
// The orders file is newline-delimited JSON, one order per line, either
// sized ({"size":"half","flavors":["Chocolate","Mint"]}) or explicit
// ({"items":[{"flavor":1,"qty":250}]}). Configuration comes from the
// shared cluster file (GELATO_CONFIG, or gelato.yaml in the working
// directory, or compiled defaults). Exit code 0 on clean shutdown,
// non-zero on unrecoverable startup failure.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dreamware/gelato/internal/config"
	"github.com/dreamware/gelato/internal/screen"
)

// logFatal is a variable to allow intercepting fatal exits in tests.
var logFatal = log.Fatalf

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 2 {
		logFatal("usage: screen <id> <orders-file>")
		return 2
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id < 0 {
		logFatal("screen id must be a non-negative integer, got %q", args[0])
		return 2
	}
	ordersPath := args[1]

	cfg, err := config.Load("")
	if err != nil {
		logFatal("screen[%d]: %v", id, err)
		return 1
	}
	if id >= cfg.MaxScreens {
		logFatal("screen id %d out of range (max_screens is %d)", id, cfg.MaxScreens)
		return 2
	}

	orders, err := screen.ReadOrders(ordersPath, id)
	if err != nil {
		logFatal("screen[%d]: %v", id, err)
		return 1
	}
	log.Printf("screen[%d] starting on %s with %d orders", id, cfg.ScreenAddr(id), len(orders))

	scr := screen.New(cfg, id, orders)

	errs := make(chan error, 1)
	go func() { errs <- scr.Run() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			log.Printf("screen[%d] failed: %v", id, err)
			return 1
		}
		return 0
	case sig := <-stop:
		log.Printf("screen[%d] received %s, shutting down", id, sig)
		scr.Shutdown()
		log.Printf("screen[%d] stopped", id)
		return 0
	}
}
