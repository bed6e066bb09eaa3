// Package eventpublisher renders stream events into text through mapping
// templates and delivers the result to pluggable sinks.
//
// # Mapping Templates
//
// A template is text containing {{key}} placeholders. Keys name attributes of
// the stream definition; meta and correlation attributes answer to both their
// bare name and their prefixed form (meta_x, correlation_y):
//
//	{"order":{{id}},"tenant":{{meta_tenant}}}
//
// Rendering substitutes each placeholder with the event value at the bound
// position. Strings are quoted, nil renders as null, numbers and booleans are
// bare. When custom mapping is disabled a template is generated from the
// schema:
//
//	{"event":{"metaData":{"tenant":{{meta_tenant}}},"payloadData":{"id":{{id}}}}}
//
// # Architecture
//
//	schema      stream definitions, position maps, event decoding
//	mapping     compile, validate, render, default generation, resolvers
//	publisher   per-stream worker pool, activation, reconfiguration, hot reload
//	output/...  sinks: stdout, file, nats, httppost, websocket
//	config      application configuration loader
//	natsclient  NATS connection with JetStream and KV helpers
//	metric      Prometheus registry shared by every component
//	health      component health aggregation
//	errors      classified errors (transient, invalid, fatal)
//	pkg/retry   exponential backoff
//	pkg/worker  bounded worker pool with blocking admission
//
// A mapping is compiled and checked against the schema once, when it is
// activated. The resulting Mapper is immutable and is swapped atomically, so
// rendering never takes a lock and a failed reconfiguration leaves the
// previous mapping serving.
//
// # Running
//
//	go run ./cmd/eventpublisher --config configs/eventpublisher.yaml < configs/events.example.jsonl
//
// Integration tests start NATS in a container and are behind a build tag:
//
//	go test -tags integration ./...
package eventpublisher
