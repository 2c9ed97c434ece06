/*
Package config provides configuration management for swapforge with
multi-source support.

Configuration hierarchy, highest precedence first:

	┌─────────────────────────────────────────────┐
	│       CLI flags (cmd/swapforge)              │ ← Highest Priority
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│     Environment Variables (SWAPFORGE_*)       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Configuration File (YAML)              │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Compiled-in Defaults                │ ← Lowest Priority
	└─────────────────────────────────────────────┘

cmd/swapforge applies these in order: NewDefault, LoadFromFile,
LoadFromEnv, then flag values are assigned directly onto the
resulting Configuration before Validate is called.

# Configuration sections

Engine holds the ambient settings every pipeline stage shares: log
level/file, the metrics and health listener ports, and the log-root
directory where BenchResult/Plan/PartitionPlan JSON and the partition
backup dump are written (the same directory internal/lock flocks to
enforce single-instance execution).

Overrides is the flat operator override layer from spec §6:
ram_solution, ram_pool_bytes, compressor, allocator, disk_backing,
disk_total_bytes, stripe_width, preserve_root_gib, allow_root_shrink,
bench_duration_s. It embeds types.Overrides directly so the Plan
Calculator consumes exactly what this package loads, with no
translation step in between.

External models the configuration record swapforge receives from the
surrounding post-install toolkit (shell bootstrap, repo cloning,
package install, notification transport) — out of scope components
per spec §1, but swapforge still needs to read what they hand it.

# Example file

	engine:
	  log_level: INFO
	  log_file: "/var/log/swapforge/engine.log"
	  log_root: "/var/log/swapforge"
	  metrics_port: 9090
	  health_port: 9091

	overrides:
	  ram_solution: auto
	  preserve_root_gib: 10
	  allow_root_shrink: false
	  bench_duration_s: 5

	external:
	  skip_stages: []

# Environment variables

	SWAPFORGE_LOG_LEVEL=DEBUG
	SWAPFORGE_LOG_FILE=/var/log/swapforge/engine.log
	SWAPFORGE_METRICS_PORT=9100
	SWAPFORGE_RAM_SOLUTION=compressed_cache
	SWAPFORGE_ALLOW_ROOT_SHRINK=true
	SWAPFORGE_DRY_RUN=true
*/
package config
