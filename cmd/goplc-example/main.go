// Command goplc-example runs a small ventilation controller.
//
// A simulated room heats up over time; a 500ms control program switches
// the fan when the temperature crosses the setpoint, and a 1s program
// advances the simulation. The controller serves the register image on
// Modbus TCP :1502, publishes observable points on a stdout publisher
// and accepts the "vent.setpoint" action from the point bus.
//
// Usage:
//
//	go run ./cmd/goplc-example
//
// While it runs, inspect it with the CLI:
//
//	goplc-cli -name vent info
//	goplc-cli -name vent task_stats.get
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/goplc-io/goplc/pkg/config"
	"github.com/goplc-io/goplc/pkg/ctxstore"
	"github.com/goplc-io/goplc/pkg/plc"
	"github.com/goplc-io/goplc/pkg/sched"
)

const version = "0.1.0"

const defaultConfig = `
version: 1
name: vent
description: ventilation example controller

core:
  stop_timeout: 10s

context:
  serialize: true
  modbus: {c: 16, d: 16, i: 16, h: 16}
  fields:
    fan: BOOL
    temp_in: REAL
    setpoint: REAL

log:
  console: true

server:
  - kind: modbus
    config: {proto: tcp, listen: ":1502"}

io:
  - id: bus1
    kind: pointbus
    config: {action_pool_size: 2, queue_size: 16}
    input:
      - action_map: [{point: "vent.setpoint", value: setpoint}]
    output:
      - point_map:
          - {point: "vent.temp_in", value: temp_in}
          - {point: "vent.fan", value: fan}
        sync: 1s
        cache: 5s
`

// stdoutPublisher prints observable point updates.
type stdoutPublisher struct{}

func (stdoutPublisher) Publish(_ context.Context, point string, v any) error {
	log.Printf("publish %s = %v", point, v)
	return nil
}

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	var (
		cfgPath   = flag.String("config", "", "configuration file (default: embedded ventilation config)")
		statePath = flag.String("state", "vent.plcdat", "context snapshot file, empty disables persistence")
		stats     = flag.Duration("stats", 0, "log task statistics on this period (0 disables)")
	)
	flag.Parse()

	raw := []byte(defaultConfig)
	if *cfgPath != "" {
		var err error
		raw, err = os.ReadFile(*cfgPath)
		if err != nil {
			log.Fatalf("read config: %v", err)
		}
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}

	c, err := plc.New(cfg, version)
	if err != nil {
		log.Fatalf("build controller: %v", err)
	}

	if *statePath != "" {
		if err := c.LoadSnapshot(*statePath); err != nil {
			log.Fatalf("load snapshot: %v", err)
		}
		c.OnShutdown(func(context.Context) {
			if err := c.SaveSnapshot(*statePath); err != nil {
				log.Printf("save snapshot: %v", err)
			}
		})
	}

	if err := c.SetPublisher("bus1", stdoutPublisher{}); err != nil {
		log.Fatal(err)
	}
	if err := registerPrograms(c); err != nil {
		log.Fatal(err)
	}
	if *stats > 0 {
		if err := c.LogStatsEvery(*stats); err != nil {
			log.Fatal(err)
		}
	}

	if err := c.Run(context.Background()); err != nil {
		if err == sched.ErrForceStop {
			log.Fatal("forced stop after shutdown timeout")
		}
		log.Fatal(err)
	}
	log.Println("controller stopped")
}

func registerPrograms(c *plc.Controller) error {
	store := c.Store()
	fan := store.MustResolve("fan")
	temp := store.MustResolve("temp_in")
	setpoint := store.MustResolve("setpoint")

	// Seed a sensible default once; a restored snapshot overrides it.
	if store.Get(setpoint) == float32(0) {
		if err := store.Set(setpoint, float32(22.0)); err != nil {
			return err
		}
	}
	if err := store.Set(temp, float32(20.0)); err != nil {
		return err
	}

	// control: fan follows the setpoint with 0.5 degrees hysteresis,
	// and the served register image mirrors the state.
	err := c.RegisterProgram("control", 500*time.Millisecond, func(_ context.Context, s *ctxstore.Store) error {
		var on bool
		var t float32
		s.Update(func(tx *ctxstore.Txn) {
			t = tx.F32(temp)
			sp := tx.F32(setpoint)
			on = tx.Bool(fan)
			switch {
			case t > sp+0.5:
				on = true
			case t < sp-0.5:
				on = false
			}
			tx.SetBool(fan, on)
		})

		if img := c.Modbus(); img != nil {
			if err := img.WriteCoils(0, []bool{on}); err != nil {
				return err
			}
			return img.WriteInputs(0, []uint16{uint16(t * 10)})
		}
		return nil
	})
	if err != nil {
		return err
	}

	// simulate: the room warms up, the fan cools it down.
	return c.RegisterProgram("simulate", time.Second, func(_ context.Context, s *ctxstore.Store) error {
		s.Update(func(tx *ctxstore.Txn) {
			t := tx.F32(temp)
			if tx.Bool(fan) {
				t -= 0.4
			} else {
				t += 0.25
			}
			tx.SetF32(temp, t)
		})
		return nil
	})
}
