// Package natsclient wraps one NATS connection with the JetStream key-value operations
// the variable directory bridge needs.
//
// Connect retries with exponential backoff from pkg/retry and reports configuration
// problems without retrying. Once connected the underlying nats.Conn reconnects on its
// own; status transitions are logged through log/slog and surfaced via callbacks.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "varnet"})
//	kv := client.NewKVStore(bucket)
//	_, err = kv.Put(ctx, "Devices.pump.status", data)
//
// # Testing
//
// NewTestClient starts a throwaway nats server with testcontainers-go and registers
// its teardown with t.Cleanup. Tests that use it carry the integration build tag.
package natsclient
