/*
Package types defines the core data model and component contracts shared
across swapforge's pipeline stages.

# Data flow

	Inventory ──► Benchmark (uses Locker/Pressurizer) ──► Plan ──► PartitionPlan ──► Activation
	    │                        │                          │            │               │
	    └────────────────────────┴──────────────────────────┴────────────┴───────────────┘
	                                    Reporter observes all stages

Inventory is read once at process start. BenchResult is computed once and
persisted to disk so it survives the reboot an offline root shrink requires.
Plan is a pure function of Inventory, BenchResult, and operator overrides.
PartitionPlan is ephemeral — only its backup dump and the resulting GPT
state outlive the process.

# Interfaces

The interfaces in this package (Prober, BenchRunner, PlanCalculator,
PartitionEditor, Activator, TunableManager, Reporter) exist so that
internal/* packages can be exercised against fakes in tests without
touching a real block device or kernel interface.
*/
package types
