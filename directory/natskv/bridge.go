package natskv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/varnet/directory"
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/natsclient"
	"github.com/c360/varnet/validity"
)

// record is the bucket value of one variable.
type record struct {
	Value    json.RawMessage   `json:"value"`
	Version  validity.Version  `json:"version"`
	Validity validity.Validity `json:"validity"`
	Origin   string            `json:"origin"`
}

// Bridge is a directory whose variables are mirrored into a key-value bucket.
// Application publications are put into the bucket; puts from other origins on
// read-write variables are delivered to the application as operator writes.
type Bridge struct {
	*directory.Memory

	kv     *natsclient.KVStore
	prefix string
	origin string
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	watcher jetstream.KeyWatcher
	done    chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPrefix sets the key prefix. Keys are prefix + "." + name with slashes as dots.
func WithPrefix(prefix string) Option {
	return func(b *Bridge) { b.prefix = strings.Trim(prefix, ".") }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a bridge over kv. The in-process directory holds the registered variables.
func New(kv *natsclient.KVStore, opts ...Option) *Bridge {
	b := &Bridge{
		kv:     kv,
		origin: uuid.NewString(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "natskv", "origin", b.origin)
	b.Memory = directory.NewMemory(directory.WithLogger(b.logger))
	return b
}

// Origin identifies updates this bridge put into the bucket.
func (b *Bridge) Origin() string { return b.origin }

// Key returns the bucket key of a variable name.
func (b *Bridge) Key(name string) string {
	key := strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", ".")
	if b.prefix == "" {
		return key
	}
	return b.prefix + "." + key
}

// Name returns the variable name of a bucket key, false for keys outside the prefix.
func (b *Bridge) Name(key string) (string, bool) {
	if b.prefix != "" {
		rest, ok := strings.CutPrefix(key, b.prefix+".")
		if !ok {
			return "", false
		}
		key = rest
	}
	if key == "" {
		return "", false
	}
	return "/" + strings.ReplaceAll(key, ".", "/"), true
}

func (b *Bridge) pattern() string {
	if b.prefix == "" {
		return ">"
	}
	return b.prefix + ".>"
}

func encode(u directory.Update, origin string) ([]byte, error) {
	value, err := json.Marshal(u.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(record{Value: value, Version: u.Version, Validity: u.Validity, Origin: origin})
}

func decode(data []byte, typ reflect.Type) (record, any, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, nil, err
	}
	if typ == nil {
		var v any
		err := json.Unmarshal(rec.Value, &v)
		return rec, v, err
	}
	ptr := reflect.New(typ)
	if len(rec.Value) > 0 {
		if err := json.Unmarshal(rec.Value, ptr.Interface()); err != nil {
			return rec, nil, fmt.Errorf("decode %s: %w", typ, err)
		}
	}
	return rec, ptr.Elem().Interface(), nil
}

// Publish stores the application value and puts it into the bucket.
func (b *Bridge) Publish(ctx context.Context, u directory.Update) error {
	if err := b.Memory.Publish(ctx, u); err != nil {
		return err
	}
	return b.put(ctx, u)
}

// Write stores an operator value locally and puts it into the bucket.
func (b *Bridge) Write(ctx context.Context, name string, value any) error {
	if err := b.Memory.Write(ctx, name, value); err != nil {
		return err
	}
	u, err := b.Memory.Read(ctx, name)
	if err != nil {
		return err
	}
	return b.put(ctx, u)
}

func (b *Bridge) put(ctx context.Context, u directory.Update) error {
	data, err := encode(u, b.origin)
	if err != nil {
		return errors.WrapInvalid(err, "NATSDirectory", "Publish", "encode "+u.Name)
	}
	if _, err := b.kv.Put(ctx, b.Key(u.Name), data); err != nil {
		return errors.WrapTransient(err, "NATSDirectory", "Publish", "put "+u.Name)
	}
	return nil
}

// Start seeds missing keys of read-write variables, restores the values already in the
// bucket and then starts delivering remote updates.
func (b *Bridge) Start(ctx context.Context) error {
	for _, v := range b.Variables() {
		if !v.Writable() {
			continue
		}
		u, err := b.Memory.Read(ctx, v.Name)
		if err != nil {
			return err
		}
		data, err := encode(u, b.origin)
		if err != nil {
			return errors.WrapInvalid(err, "NATSDirectory", "Start", "encode "+v.Name)
		}
		if _, err := b.kv.Create(ctx, b.Key(v.Name), data); err != nil && !natsclient.IsKVConflictError(err) {
			return errors.WrapTransient(err, "NATSDirectory", "Start", "seed "+v.Name)
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	watcher, err := b.kv.Watch(watchCtx, b.pattern())
	if err != nil {
		cancel()
		return errors.WrapTransient(err, "NATSDirectory", "Start", "watch bucket")
	}

	// initial values end with a nil entry
initial:
	for {
		select {
		case <-ctx.Done():
			_ = watcher.Stop()
			cancel()
			return ctx.Err()
		case entry, ok := <-watcher.Updates():
			if !ok || entry == nil {
				break initial
			}
			b.restore(entry)
		}
	}

	if err := b.Memory.Start(ctx); err != nil {
		_ = watcher.Stop()
		cancel()
		return err
	}

	b.mu.Lock()
	b.cancel = cancel
	b.watcher = watcher
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.follow(watchCtx, watcher)
	b.logger.Info("Directory bridge started", "variables", len(b.Variables()), "pattern", b.pattern())
	return nil
}

func (b *Bridge) restore(entry jetstream.KeyValueEntry) {
	name, v, ok := b.variable(entry)
	if !ok || !v.Writable() {
		return
	}
	rec, value, err := decode(entry.Value(), v.Type)
	if err != nil {
		b.logger.Warn("Skipping undecodable value", "key", entry.Key(), "error", err)
		return
	}
	if err := b.Memory.Restore(directory.Update{Name: name, Value: value, Version: rec.Version, Validity: rec.Validity}); err != nil {
		b.logger.Warn("Skipping initial value", "key", entry.Key(), "error", err)
	}
}

func (b *Bridge) variable(entry jetstream.KeyValueEntry) (string, directory.Variable, bool) {
	if entry.Operation() != jetstream.KeyValuePut {
		return "", directory.Variable{}, false
	}
	name, ok := b.Name(entry.Key())
	if !ok {
		return "", directory.Variable{}, false
	}
	v, ok := b.Lookup(name)
	return name, v, ok
}

func (b *Bridge) follow(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer close(b.doneChan())
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			b.apply(ctx, entry)
		}
	}
}

func (b *Bridge) apply(ctx context.Context, entry jetstream.KeyValueEntry) {
	name, v, ok := b.variable(entry)
	if !ok || !v.Writable() {
		return
	}
	rec, value, err := decode(entry.Value(), v.Type)
	if err != nil {
		b.logger.Warn("Skipping undecodable value", "key", entry.Key(), "error", err)
		return
	}
	if rec.Origin == b.origin {
		return
	}
	if err := b.Memory.Write(ctx, name, value); err != nil {
		b.logger.Warn("Remote write rejected", "variable", name, "error", err)
	}
}

func (b *Bridge) doneChan() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Close stops the watcher and the in-process directory.
func (b *Bridge) Close() error {
	b.mu.Lock()
	cancel, watcher, done := b.cancel, b.watcher, b.done
	b.cancel, b.watcher = nil, nil
	b.mu.Unlock()

	if watcher != nil {
		_ = watcher.Stop()
		cancel()
		<-done
	}
	return b.Memory.Close()
}

var _ directory.Directory = (*Bridge)(nil)
