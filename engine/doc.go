// Package engine assembles and runs a variable network application.
//
// # Overview
//
// An Application holds a hierarchy of modules and groups. Modules declare typed
// accessors (push inputs, poll inputs, outputs and inputs with return channel) and run
// their main loop on a goroutine of their own. When the application is initialised the
// accessors are connected into variable networks:
//
//   - by name: endpoints with the same virtual name share one network
//   - explicitly: Connect, ConnectTo and ConnectDevice
//   - to devices: configured registers join the network named by their path
//
// Networks without an application feeder are fed by the control system through the
// variable directory; published feeders are mirrored to it. Remaining networks without
// feeder get a constant feeder holding the zero value.
//
// # Architecture
//
//	┌──────────────┐   assemble   ┌───────────────┐   resolve   ┌──────────────┐
//	│  hierarchy   │ ───────────> │ network.Graph │ ──────────> │  resolver    │
//	│ modules/tags │              │  by-name +    │             │  shapes and  │
//	└──────────────┘              │  explicit     │             │  triggers    │
//	                              └───────────────┘             └──────┬───────┘
//	                                                                   │ realize
//	     ┌──────────────┐     ┌─────────────────┐     ┌────────────────▼──────┐
//	     │  directory   │ <── │  pumps / fan-out │ <── │ transport queues      │
//	     │ (memory/nats)│     │  goroutines      │     │ one per consumer      │
//	     └──────────────┘     └─────────────────┘     └───────────────────────┘
//
// # Lifecycle
//
//	app, _ := engine.New(cfg)
//	mod := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "Controller", Main: run})
//	in := engine.NewPushInput[float64](mod, "setpoint", engine.WithUnit("degC"))
//	out := engine.NewOutput[float64](mod, "heater", engine.WithUnit("%"))
//	err := app.Run(ctx)
//
// Start initialises the application, starts devices, fan-out goroutines and the
// directory, runs every Prepare function, writes constants and finally starts the main
// loops. Shutdown cancels everything and closes the directory.
//
// # Validity and versions
//
// Every transported value carries a version from the application clock and a
// validity flag. A module's outputs are faulty while any of its inputs is faulty or its
// fault counter is raised. Feedback loops between modules are detected so faults do
// not latch inside a cycle.
//
// # Testable mode
//
// With testable mode enabled all module goroutines share one lock. Step releases it and
// returns once every queued value was consumed, which makes tests deterministic. See
// package testfacility.
package engine
