// Command snapshot-gen writes a synthetic incident snapshot for local
// development: a payment-service release with an unbounded cache, followed
// by a memory leak, OOM errors, and a downstream cascade.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

var incidentStart = time.Date(2025, 3, 14, 2, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return incidentStart.Add(time.Duration(minutes) * time.Minute)
}

func main() {
	out := flag.String("out", "snapshot", "output directory")
	flag.Parse()

	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	files := map[string]any{
		"application_logs.json":       logs(),
		"infrastructure_metrics.json": metrics(),
		"deployment_history.json":     deployments(),
	}
	for name, payload := range files {
		if err := writeJSON(filepath.Join(*out, name), payload); err != nil {
			log.Fatalf("write %s: %v", name, err)
		}
	}
	fmt.Printf("snapshot written to %s\n", *out)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func logs() map[string]any {
	entries := []map[string]any{
		{
			"id":        "log-0001",
			"timestamp": at(8),
			"service":   "payment-service",
			"level":     "WARN",
			"message":   "GC pause exceeded 500ms, heap occupancy 87%",
		},
		{
			"id":        "log-0002",
			"timestamp": at(10),
			"service":   "payment-service",
			"level":     "ERROR",
			"message":   "java.lang.OutOfMemoryError: Java heap space",
			"stack_trace": []string{
				"at com.shop.payment.cache.TransactionCache.put(TransactionCache.java:88)",
				"at com.shop.payment.ProcessPayment.handle(ProcessPayment.java:41)",
			},
		},
		{
			"id":        "log-0003",
			"timestamp": at(12),
			"service":   "payment-service",
			"level":     "ERROR",
			"message":   "java.lang.OutOfMemoryError: GC overhead limit exceeded",
		},
		{
			"id":        "log-0004",
			"timestamp": at(14),
			"service":   "order-service",
			"level":     "ERROR",
			"message":   "Cascading failure: payment-service unavailable, 503 on checkout",
		},
		{
			"id":        "log-0005",
			"timestamp": at(15),
			"service":   "payment-service",
			"level":     "ERROR",
			"message":   "Connection pool exhausted: 50/50 in use, 37 waiting",
		},
	}
	// A malformed entry the loader must skip and count.
	entries = append(entries, map[string]any{
		"service": "payment-service",
		"level":   "ERROR",
		"message": "entry without id or timestamp",
	})
	return map[string]any{"log_entries": entries}
}

func metrics() map[string]any {
	memSeries := []map[string]any{}
	for i := 0; i <= 20; i += 5 {
		memSeries = append(memSeries, map[string]any{
			"timestamp": at(i),
			"value":     1200 + float64(i)*95,
		})
	}
	latSeries := []map[string]any{
		{"timestamp": at(0), "p99": 120},
		{"timestamp": at(10), "p99": 900},
		{"timestamp": at(18), "p99": 4200},
	}
	errSeries := []map[string]any{
		{"timestamp": at(0), "value": 0.4},
		{"timestamp": at(12), "value": 18.0},
		{"timestamp": at(16), "value": 61.5},
	}

	return map[string]any{
		"services": map[string]any{
			"payment-service": map[string]any{
				"pods": map[string]any{
					"pay-pod-9b1e": map[string]any{
						"status":        "Running",
						"restart_count": 4,
						"memory": map[string]any{
							"limit_mb":   4096,
							"timeseries": memSeries,
							"leak_analysis": map[string]any{
								"leak_detected":         true,
								"leak_rate_mb_per_min":  95,
								"gc_overhead_pct":       78,
								"estimated_oom_minutes": 12,
								"suspected_source":      "TransactionCache",
							},
						},
					},
				},
				"latency":    map[string]any{"timeseries": latSeries},
				"error_rate": map[string]any{"timeseries": errSeries},
				"database": map[string]any{
					"connection_pool": map[string]any{
						"active":               50,
						"max_size":             50,
						"pending":              37,
						"avg_checkout_time_ms": 4200,
					},
				},
			},
			"api-gateway": map[string]any{
				"upstream_health": map[string]any{
					"payment-service": map[string]any{
						"healthy_pct":   22.5,
						"circuit_state": "OPEN",
					},
				},
			},
		},
	}
}

func deployments() map[string]any {
	return map[string]any{
		"deployments": []map[string]any{
			{
				"id":               "dep-2025-03-14-001",
				"timestamp":        at(2),
				"service":          "payment-service",
				"version":          "v2.14.0",
				"previous_version": "v2.13.1",
				"type":             "deployment",
				"changelog":        "Add in-memory transaction cache with unbounded queue for faster retries",
			},
			{
				"id":        "dep-2025-03-13-007",
				"timestamp": at(-600),
				"service":   "api-gateway",
				"type":      "config_change",
				"changelog": "Raise circuit breaker error threshold ahead of flash sale",
				"config_deltas": []map[string]any{
					{"key": "circuit_breaker.error_threshold_pct", "old": "25", "new": "50"},
				},
			},
			{
				"id":        "dep-2025-03-12-003",
				"timestamp": at(-2880),
				"service":   "email-service",
				"version":   "v1.8.2",
				"type":      "deployment",
				"changelog": "Update footer copy",
			},
		},
	}
}
