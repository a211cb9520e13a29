package config

import "time"

// DefaultEndpoints returns the built-in endpoint table. It covers the
// integrations relaycall ships adapters for out of the box; user config
// entries with the same name override these wholesale.
func DefaultEndpoints() map[string]EndpointSettings {
	return map[string]EndpointSettings{
		"http.get": {
			Protocol:       "http",
			BaseURL:        "https://httpbin.org",
			Method:         "GET",
			MaxConcurrency: 8,
			RatePerSecond:  20,
			Burst:          10,
			Idempotent:     true,
		},
		"http.post": {
			Protocol:       "http",
			BaseURL:        "https://httpbin.org",
			Method:         "POST",
			MaxConcurrency: 8,
			RatePerSecond:  20,
			Burst:          10,
		},
		"storage.put": {
			Protocol:       "sdk",
			MaxConcurrency: 16,
			RatePerSecond:  50,
			Burst:          20,
			Idempotent:     true,
		},
		// Payment charges are never retried without an idempotency key.
		"charges": {
			Protocol:       "sdk",
			MaxConcurrency: 2,
			RatePerSecond:  5,
			Burst:          2,
			MaxAttempts:    4,
		},
		"ai.complete": {
			Protocol:       "sdk",
			MaxConcurrency: 2,
			RatePerSecond:  2,
			Burst:          1,
			BackoffBase:    500 * time.Millisecond,
			BackoffCap:     30 * time.Second,
			Timeout:        60 * time.Second,
			Idempotent:     true,
		},
		"docdb.insert": {
			Protocol:       "sdk",
			MaxConcurrency: 8,
			RatePerSecond:  100,
			Burst:          25,
		},
		"broker.publish": {
			Protocol:       "sdk",
			MaxConcurrency: 32,
			RatePerSecond:  200,
			Burst:          50,
			Idempotent:     true,
		},
		"rdb.query": {
			Protocol:       "sdk",
			MaxConcurrency: 10,
			RatePerSecond:  100,
			Burst:          20,
			Idempotent:     true,
		},
		"cache.set": {
			Protocol:       "sdk",
			MaxConcurrency: 64,
			RatePerSecond:  500,
			Burst:          100,
			MaxAttempts:    2,
			Timeout:        2 * time.Second,
			Idempotent:     true,
		},
	}
}
