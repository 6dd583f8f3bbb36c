// Package main implements the gelato robot service: one member of the
// robot ring, serving ice cream and, when elected, leading order
// dispatch for the whole fleet.
//
// The robot joins the ring of well-known addresses derived from the
// cluster configuration, circulates flavor tokens, and prepares the
// orders the current leader assigns to it. If it is the first robot up it
// mints the flavor tokens and takes the leadership at epoch zero; if it
// later wins an election it reconstructs the dispatch state from the last
// replicated leader snapshot.
//
// Usage:
//
//	robot <id>
//
// Configuration comes from the shared cluster file (GELATO_CONFIG, or
// gelato.yaml in the working directory, or compiled defaults). Exit code
// 0 on clean shutdown, non-zero on unrecoverable startup failure.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dreamware/gelato/internal/config"
	"github.com/dreamware/gelato/internal/robot"
)

// logFatal is a variable to allow intercepting fatal exits in tests.
var logFatal = log.Fatalf

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 1 {
		logFatal("usage: robot <id>")
		return 2
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id < 0 {
		logFatal("robot id must be a non-negative integer, got %q", args[0])
		return 2
	}

	cfg, err := config.Load("")
	if err != nil {
		logFatal("robot[%d]: %v", id, err)
		return 1
	}
	if id >= cfg.MaxRobots {
		logFatal("robot id %d out of range (max_robots is %d)", id, cfg.MaxRobots)
		return 2
	}

	log.Printf("robot[%d] starting on %s", id, cfg.RobotAddr(id))

	node := robot.NewNode(cfg, id)

	// Run the node and wait for either a fatal startup error or a
	// shutdown signal.
	errs := make(chan error, 1)
	go func() { errs <- node.Run() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			log.Printf("robot[%d] failed: %v", id, err)
			return 1
		}
		return 0
	case sig := <-stop:
		log.Printf("robot[%d] received %s, shutting down", id, sig)
		node.Shutdown()
		log.Printf("robot[%d] stopped", id)
		return 0
	}
}
