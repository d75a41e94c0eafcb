package bus

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/climateguard/climateguard/internal/device"
	"github.com/climateguard/climateguard/internal/domain"
	"github.com/climateguard/climateguard/internal/store"
)

// popTimeout bounds how long the executor blocks for the next command
// before re-checking the stop signal.
const popTimeout = 5 * time.Second

// Executor is the command-bus's single consumer: E. It owns the store,
// builds a fresh execution context per command, and commits or rolls
// back depending on how the command returns.
type Executor struct {
	Store     *store.Store
	Commands  *CommandQueue
	Outbound  *OutboundQueue
	Publisher Publisher
	Clock     device.Clock
	Devices   map[domain.DeviceKind]*device.Device
	MyAddress byte
	Stop      *StopSignal
}

// Run blocks, executing commands until Stop is set. It is meant to run
// on its own goroutine.
func (e *Executor) Run() {
	for !e.Stop.IsSet() {
		cmd, ok := e.Commands.Pop(popTimeout)
		if !ok {
			continue
		}
		e.execute(cmd)
	}
}

func (e *Executor) execute(cmd Command) {
	tx, err := e.Store.Begin(context.Background())
	if err != nil {
		log.Printf("bus: begin transaction: %v", err)
		return
	}

	ectx := &ExecutionContext{
		Tx:        tx,
		Outbound:  e.Outbound,
		Commands:  e.Commands,
		Publisher: e.Publisher,
		Clock:     e.Clock,
		Devices:   e.Devices,
		MyAddress: e.MyAddress,
	}

	if err := cmd.Execute(ectx); err != nil {
		log.Printf("bus: command failed, rolling back: %v", err)
		if rerr := tx.Rollback(); rerr != nil {
			log.Printf("bus: rollback failed: %v", rerr)
		}
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("bus: commit failed: %v", err)
	}
}

// StopSignal is the shared shutdown flag every worker polls at its
// suspension points.
type StopSignal struct {
	flag atomic.Bool
}

func (s *StopSignal) Set() {
	s.flag.Store(true)
}

func (s *StopSignal) IsSet() bool {
	return s.flag.Load()
}
