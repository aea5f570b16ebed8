package engine

import (
	"context"
	"reflect"

	"github.com/c360/varnet/config"
	"github.com/c360/varnet/device"
	"github.com/c360/varnet/directory"
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/hierarchy"
	"github.com/c360/varnet/network"
	"github.com/c360/varnet/transport"
	"github.com/c360/varnet/validity"
)

// DevicesGroup is the directory group holding the status of every device.
const DevicesGroup = "/Devices"

// deviceBinding is a backend registered with the application.
type deviceBinding struct {
	name      string
	backend   device.Backend
	registers []config.RegisterConfig

	dev  *device.Device
	regs map[string]*device.Register
}

// registerBinding is the payload of a device register node.
type registerBinding struct {
	dev *deviceBinding
	reg *device.Register
	cfg config.RegisterConfig
}

// statusBinding is the payload of a device status feeder.
type statusBinding struct {
	dev     *deviceBinding
	message bool
	writer  transport.Writer
}

// StatusPath returns the directory name of a device's status variable.
func StatusPath(deviceName string) string {
	return hierarchy.Join(DevicesGroup, deviceName, "status")
}

// MessagePath returns the directory name of a device's status message.
func MessagePath(deviceName string) string {
	return hierarchy.Join(DevicesGroup, deviceName, "message")
}

// AddDevice binds a backend under name. Registers map backend registers into the
// variable name space.
func (a *Application) AddDevice(name string, backend device.Backend, registers ...config.RegisterConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Application", "AddDevice", name)
	}
	if backend == nil {
		return errors.Fatalf(errors.ErrInvalidConfig, "Application", "AddDevice", "device %q has no backend", name)
	}
	if err := directory.ValidateName("/" + name); err != nil {
		return errors.Fatalf(errors.ErrInvalidConfig, "Application", "AddDevice", "device name %q: %v", name, err)
	}
	for _, d := range a.devices {
		if d.name == name {
			return errors.Fatalf(errors.ErrDuplicateName, "Application", "AddDevice", "device %q exists", name)
		}
	}
	seen := make(map[string]bool, len(registers))
	for _, r := range registers {
		if seen[r.Name] {
			return errors.Fatalf(errors.ErrDuplicateName, "Application", "AddDevice",
				"device %q register %q listed twice", name, r.Name)
		}
		seen[r.Name] = true
		if r.Direction != config.DirectionRead && r.Direction != config.DirectionWrite {
			return errors.Fatalf(errors.ErrInvalidConfig, "Application", "AddDevice",
				"register %s:%s has direction %q", name, r.Name, r.Direction)
		}
		if err := directory.ValidateName(r.Path); err != nil {
			return errors.Fatalf(errors.ErrInvalidConfig, "Application", "AddDevice",
				"register %s:%s path: %v", name, r.Name, err)
		}
	}
	a.devices = append(a.devices, &deviceBinding{name: name, backend: backend, registers: registers})
	return nil
}

// dummyBackend builds the backend of a configured device.
func dummyBackend(dc config.DeviceConfig) (device.Backend, error) {
	initial := make(map[string]any, len(dc.Registers))
	for _, r := range dc.Registers {
		v, err := directory.Convert(r.Initial, RegisterType(r.Type))
		if err != nil {
			return nil, errors.Fatalf(errors.ErrInvalidConfig, "Application", "New",
				"register %q initial value: %v", r.Name, err)
		}
		initial[r.Name] = v
	}
	return device.NewDummy(initial), nil
}

// RegisterType maps a configured register type to its Go type. Empty means float64.
func RegisterType(name string) reflect.Type {
	switch name {
	case "int32":
		return reflect.TypeFor[int32]()
	case "int64":
		return reflect.TypeFor[int64]()
	case "uint32":
		return reflect.TypeFor[uint32]()
	case "float32":
		return reflect.TypeFor[float32]()
	case "bool":
		return reflect.TypeFor[bool]()
	case "string":
		return reflect.TypeFor[string]()
	default:
		return reflect.TypeFor[float64]()
	}
}

// createDevices creates the device runtimes. The scheduler counts every device as
// initialising from here until its first open.
func (a *Application) createDevices() error {
	for _, b := range a.devices {
		b.dev = device.New(b.name, b.backend,
			device.WithLogger(a.logger),
			device.WithMetrics(a.metrics),
			device.WithHealth(a.monitor),
			device.WithScheduler(a.sched),
			device.WithRecovery(a.cfg.Recovery.RetryConfig()),
		)
		b.regs = make(map[string]*device.Register, len(b.registers))
		for _, r := range b.registers {
			initial, err := directory.Convert(r.Initial, RegisterType(r.Type))
			if err != nil {
				return errors.Fatalf(errors.ErrInvalidConfig, "Application", "Initialise",
					"register %s:%s initial value: %v", b.name, r.Name, err)
			}
			b.regs[r.Name] = b.dev.Register(r.Name, a.clock, initial)
		}
	}
	return nil
}

func (b *deviceBinding) register(name string) (config.RegisterConfig, bool) {
	for _, r := range b.registers {
		if r.Name == name {
			return r, true
		}
	}
	return config.RegisterConfig{}, false
}

// registerNode builds a network node for a register of b.
func (b *deviceBinding) registerNode(r config.RegisterConfig) *network.Node {
	dir := network.Feeding
	if r.Direction == config.DirectionWrite {
		dir = network.Consuming
	}
	n := network.DeviceNode(b.name, r.Name, dir, RegisterType(r.Type), r.Unit)
	n.Description = "register " + r.Name + " of device " + b.name
	n.Payload = &registerBinding{dev: b, reg: b.regs[r.Name], cfg: r}
	return n
}

// statusNodes builds the feeders of the device's status group.
func (b *deviceBinding) statusNodes() (status, message *network.Node) {
	status = &network.Node{
		Name:        StatusPath(b.name),
		Direction:   network.Feeding,
		Mode:        network.Push,
		Kind:        network.Device,
		Type:        reflect.TypeFor[int32](),
		Description: "1 while device " + b.name + " is faulted",
		Device:      b.name,
		Payload:     &statusBinding{dev: b},
	}
	message = &network.Node{
		Name:        MessagePath(b.name),
		Direction:   network.Feeding,
		Mode:        network.Push,
		Kind:        network.Device,
		Type:        reflect.TypeFor[string](),
		Description: "last error of device " + b.name,
		Device:      b.name,
		Payload:     &statusBinding{dev: b, message: true},
	}
	return status, message
}

// bindStatus forwards the device status to the writers of its status feeders. Both
// feeders get an initial value when the application starts.
func (a *Application) bindStatus(b *deviceBinding, status, message *statusBinding) {
	publish := func(ctx context.Context, faulted bool, msg string) error {
		code := int32(0)
		if faulted {
			code = 1
		}
		version := a.clock.Next()
		if status != nil && status.writer != nil {
			if err := status.writer.Write(ctx, transport.Sample{Value: code, Version: version, Validity: validity.OK}); err != nil {
				return err
			}
		}
		if message != nil && message.writer != nil {
			if err := message.writer.Write(ctx, transport.Sample{Value: msg, Version: version, Validity: validity.OK}); err != nil {
				return err
			}
		}
		return nil
	}

	a.initialWrites = append(a.initialWrites, func(ctx context.Context) error {
		faulted, msg := b.dev.Status()
		return publish(ctx, faulted, msg)
	})
	b.dev.OnStatus(func(faulted bool, msg string) {
		ctx := a.ctx
		if ctx == nil || ctx.Err() != nil {
			return
		}
		if err := publish(ctx, faulted, msg); err != nil && ctx.Err() == nil {
			a.logger.Warn("Device status not delivered", "device", b.name, "error", err)
		}
	})
}
