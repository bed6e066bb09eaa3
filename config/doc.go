// Package config loads the eventpublisher application configuration.
//
// Configuration files may be JSON or YAML. A Loader starts from built-in
// defaults, merges each layer over them (maps merge key by key, lists are
// replaced), checks the merged document against an embedded JSON Schema and
// decodes it into Config. Duration fields accept Go duration strings such
// as "5s".
//
// Environment variables prefixed with EVENTPUB_ override selected values
// after decoding: NATS_URL, NATS_USERNAME, NATS_PASSWORD, NATS_TOKEN,
// LOG_LEVEL, LOG_FORMAT and METRICS_PORT.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.yaml")
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//	for _, s := range cfg.Streams {
//		pcfg := s.PublisherConfig()
//		...
//	}
package config
