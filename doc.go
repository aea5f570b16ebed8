// Package varnet is a variable network engine for control applications.
//
// An application is a hierarchy of modules. Each module runs its own main loop and
// talks to the rest of the system only through typed process variables. Variables with
// the same name are joined into networks with exactly one feeder: another module, a
// device register, a constant or the operator through the variable directory. Every
// value carries a version and a validity flag, and faults propagate along the networks.
//
// # Layout
//
//	engine/       application, modules, accessors, assembly and realization
//	hierarchy/    owner tree, path modifiers, virtual views and tags
//	network/      nodes, networks and the conflation of named endpoints
//	resolver/     network shape selection and trigger registration
//	transport/    bounded queues, direct pipes and fan-outs
//	validity/     versions, fault counters, cycle detection and the wait watchdog
//	device/       register backends with fault recovery, including the dummy backend
//	directory/    operator-facing variable directory, in memory or over NATS KV
//	testable/     deterministic stepping scheduler
//	testfacility/ test harness driving an application through its directory
//	config/       layered JSON/YAML configuration with schema validation
//	metric/       Prometheus registry and engine metrics
//	health/       component health aggregation
//	natsclient/   NATS connection and KV store management
//	errors/       classified errors and sentinels
//	cmd/varnetd/  command-line runner with a controller demo
//
// # Quick Start
//
//	cfg := config.Default()
//	app, err := engine.New(cfg)
//	if err != nil {
//		return err
//	}
//	ctrl := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "Controller", Main: run})
//	setpoint = engine.NewPushInput[float64](ctrl, "setpoint")
//	heater = engine.NewOutput[float64](ctrl, "heater")
//	return app.Run(ctx)
package varnet
