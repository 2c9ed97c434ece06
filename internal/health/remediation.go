package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkghealth "github.com/swapforge/swapforge/pkg/health"
)

// RemediationAction represents a recommended action to fix a health issue
type RemediationAction struct {
	ID            string        `json:"id"`
	Priority      Priority      `json:"priority"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Steps         []string      `json:"steps"`
	Automated     bool          `json:"automated"`
	AutoFix       AutoFixFunc   `json:"-"`
	EstimatedTime time.Duration `json:"estimated_time"`
	Impact        string        `json:"impact"`
	Category      string        `json:"category"`
}

// AutoFixFunc is a function that can automatically remediate an issue
type AutoFixFunc func(ctx context.Context) error

// RemediationEngine provides intelligent remediation recommendations
type RemediationEngine struct {
	rules     map[string]*RemediationRule
	history   []RemediationAttempt
	autoFixFn map[string]AutoFixFunc
}

// RemediationRule defines how to remediate a specific health issue
type RemediationRule struct {
	CheckName    string
	ErrorPattern string
	Actions      []*RemediationAction
	Conditions   []ConditionFunc
}

// ConditionFunc determines if a remediation should be applied
type ConditionFunc func(result *Result, health *pkghealth.ComponentHealth) bool

// RemediationAttempt tracks a remediation attempt
type RemediationAttempt struct {
	ActionID  string        `json:"action_id"`
	CheckName string        `json:"check_name"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	Error     error         `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Automated bool          `json:"automated"`
}

// ProblemDiagnosis provides detailed analysis of a health problem
type ProblemDiagnosis struct {
	Check               string               `json:"check"`
	Category            Category             `json:"category"`
	Severity            Priority             `json:"severity"`
	Problem             string               `json:"problem"`
	PossibleCauses      []string             `json:"possible_causes"`
	Symptoms            []string             `json:"symptoms"`
	Impact              string               `json:"impact"`
	Remediations        []*RemediationAction `json:"remediations"`
	DetectedAt          time.Time            `json:"detected_at"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
}

// NewRemediationEngine creates a new remediation engine
func NewRemediationEngine() *RemediationEngine {
	engine := &RemediationEngine{
		rules:     make(map[string]*RemediationRule),
		history:   make([]RemediationAttempt, 0),
		autoFixFn: make(map[string]AutoFixFunc),
	}

	// Register default remediation rules
	engine.registerDefaultRules()

	return engine
}

// DiagnoseProblem analyzes a health check failure and provides diagnosis
func (re *RemediationEngine) DiagnoseProblem(result *Result, health *pkghealth.ComponentHealth) *ProblemDiagnosis {
	diagnosis := &ProblemDiagnosis{
		Check:               result.Check,
		Problem:             result.Message,
		Symptoms:            []string{result.Error},
		DetectedAt:          result.Timestamp,
		ConsecutiveFailures: health.ConsecutiveErrors,
		Remediations:        make([]*RemediationAction, 0),
	}

	// Find matching remediation rules
	if rule, exists := re.rules[result.Check]; exists {
		// Check if error pattern matches
		if strings.Contains(result.Error, rule.ErrorPattern) || rule.ErrorPattern == "" {
			// Evaluate conditions
			allConditionsMet := true
			for _, condition := range rule.Conditions {
				if !condition(result, health) {
					allConditionsMet = false
					break
				}
			}

			if allConditionsMet {
				diagnosis.Remediations = append(diagnosis.Remediations, rule.Actions...)
			}
		}
	}

	// Analyze the problem based on check type and error
	re.analyzeProblem(diagnosis, result, health)

	return diagnosis
}

// AutoRemediate attempts to automatically fix a problem
func (re *RemediationEngine) AutoRemediate(ctx context.Context, diagnosis *ProblemDiagnosis) error {
	// Find automated remediation actions
	for _, action := range diagnosis.Remediations {
		if action.Automated && action.AutoFix != nil {
			attempt := RemediationAttempt{
				ActionID:  action.ID,
				CheckName: diagnosis.Check,
				Timestamp: time.Now(),
				Automated: true,
			}

			start := time.Now()
			err := action.AutoFix(ctx)
			attempt.Duration = time.Since(start)

			if err != nil {
				attempt.Success = false
				attempt.Error = err
				re.history = append(re.history, attempt)
				return fmt.Errorf("auto-remediation failed: %w", err)
			}

			attempt.Success = true
			re.history = append(re.history, attempt)
			return nil
		}
	}

	return fmt.Errorf("no automated remediation available for %s", diagnosis.Check)
}

// GetRemediationHistory returns recent remediation attempts
func (re *RemediationEngine) GetRemediationHistory(limit int) []RemediationAttempt {
	if limit <= 0 || limit > len(re.history) {
		limit = len(re.history)
	}

	// Return most recent attempts
	start := len(re.history) - limit
	if start < 0 {
		start = 0
	}

	return re.history[start:]
}

// analyzeProblem provides detailed problem analysis
func (re *RemediationEngine) analyzeProblem(diagnosis *ProblemDiagnosis, result *Result, health *pkghealth.ComponentHealth) {
	checkName := result.Check

	// zswap/zram module problems
	if strings.Contains(checkName, "zswap") || strings.Contains(checkName, "zram") {
		diagnosis.Category = CategoryKernel
		diagnosis.Severity = PriorityCritical
		diagnosis.PossibleCauses = []string{
			"kernel built without CONFIG_ZSWAP/CONFIG_ZRAM",
			"module blacklisted by the distribution",
			"module not yet loaded (modprobe needed before first use)",
		}
		diagnosis.Impact = "The RAM solution backed by this module cannot be activated on the running kernel."
	}

	// Locker/Pressurizer helper problems
	if strings.Contains(checkName, "locker") || strings.Contains(checkName, "pressurizer") || strings.Contains(checkName, "helper") {
		diagnosis.Category = CategoryHelper
		if strings.Contains(result.Error, "not executable") {
			diagnosis.Severity = PriorityCritical
			diagnosis.PossibleCauses = []string{
				"helper binary installed without the execute bit",
				"cmd/swaplock or cmd/swappressure was not built alongside cmd/swapforge",
			}
			diagnosis.Impact = "The Benchmark Engine cannot apply memory pressure and will report an inconclusive sweep."
		} else {
			diagnosis.Severity = PriorityHigh
			diagnosis.PossibleCauses = []string{
				"helper binary missing from the swapforge executable's directory",
				"helper binary not found on $PATH either",
			}
			diagnosis.Impact = "Benchmark Engine sweeps that require memory pressure cannot run."
		}
	}

	// Pipeline-stage problems (probe/bench/plan/partition/activate/tunables)
	if strings.Contains(checkName, "bench") || strings.Contains(checkName, "partition") || strings.Contains(checkName, "activate") || strings.Contains(checkName, "pipeline") {
		diagnosis.Category = CategoryPipeline
		diagnosis.Severity = PriorityHigh
		diagnosis.PossibleCauses = []string{
			"a prior stage's persisted report is missing or stale",
			"root filesystem does not support the requested operation (e.g. xfs cannot shrink online)",
		}
		diagnosis.Impact = "The pipeline stage cannot proceed without operator intervention."
	}

	// Scratch/log disk-space problems
	if strings.Contains(checkName, "disk") {
		diagnosis.Category = CategoryCore
		if strings.Contains(result.Error, "bytes free") {
			diagnosis.Severity = PriorityCritical
			diagnosis.PossibleCauses = []string{
				"scratch directory shares a filesystem with other heavy writers",
				"prior benchmark artifacts were never cleaned up",
			}
			diagnosis.Impact = "The Benchmark Engine cannot persist sweep artifacts or atomic writes will fail partway through."
		}
	}

	// Add generic symptoms if consecutive failures
	if diagnosis.ConsecutiveFailures >= 3 {
		diagnosis.Symptoms = append(diagnosis.Symptoms, fmt.Sprintf("%d consecutive failures detected", diagnosis.ConsecutiveFailures))
	}

	if diagnosis.ConsecutiveFailures >= 10 {
		diagnosis.Symptoms = append(diagnosis.Symptoms, "Component may need restart or manual intervention")
	}
}

// registerDefaultRules registers default remediation rules
func (re *RemediationEngine) registerDefaultRules() {
	// zswap module remediation
	re.rules["zswap_module"] = &RemediationRule{
		CheckName:    "zswap_module",
		ErrorPattern: "",
		Actions: []*RemediationAction{
			{
				ID:          "zswap_modprobe",
				Priority:    PriorityCritical,
				Title:       "Load the zswap module",
				Description: "Load zswap so the compressed-cache RAM solution is available",
				Steps: []string{
					"Run: modprobe zswap",
					"Confirm /sys/module/zswap now exists",
					"Re-run `swapforge probe` to pick it up",
				},
				Automated:     false,
				EstimatedTime: 30 * time.Second,
				Impact:        "Critical - compressed-cache plans become selectable",
				Category:      "kernel",
			},
			{
				ID:          "zswap_kernel_rebuild",
				Priority:    PriorityHigh,
				Title:       "Rebuild with CONFIG_ZSWAP",
				Description: "The running kernel was built without zswap support",
				Steps: []string{
					"Check /boot/config-$(uname -r) for CONFIG_ZSWAP",
					"Install a kernel build with CONFIG_ZSWAP=y or =m",
					"Reboot and re-run `swapforge probe`",
				},
				Automated:     false,
				EstimatedTime: 10 * time.Minute,
				Impact:        "High - requires a kernel change and reboot",
				Category:      "kernel",
			},
		},
	}

	// zram module remediation
	re.rules["zram_module"] = &RemediationRule{
		CheckName:    "zram_module",
		ErrorPattern: "",
		Actions: []*RemediationAction{
			{
				ID:          "zram_modprobe",
				Priority:    PriorityCritical,
				Title:       "Load the zram module",
				Description: "Load zram so the compressed-block-device RAM solution is available",
				Steps: []string{
					"Run: modprobe zram",
					"Confirm /sys/module/zram now exists",
					"Re-run `swapforge probe` to pick it up",
				},
				Automated:     false,
				EstimatedTime: 30 * time.Second,
				Impact:        "Critical - zram plans become selectable",
				Category:      "kernel",
			},
		},
	}

	// Locker/Pressurizer helper remediation
	re.rules["helper_process"] = &RemediationRule{
		CheckName:    "helper_process",
		ErrorPattern: "",
		Actions: []*RemediationAction{
			{
				ID:          "helper_rebuild",
				Priority:    PriorityHigh,
				Title:       "Build the missing helper binary",
				Description: "cmd/swaplock or cmd/swappressure was not installed alongside cmd/swapforge",
				Steps: []string{
					"Build the helper: go build ./cmd/swaplock ./cmd/swappressure",
					"Install it next to the swapforge binary or on $PATH",
					"Verify it is executable (mode 0755)",
				},
				Automated:     false,
				EstimatedTime: 2 * time.Minute,
				Impact:        "High - memory-pressure sweeps cannot run without it",
				Category:      "helper",
			},
			{
				ID:          "helper_fix_permissions",
				Priority:    PriorityMedium,
				Title:       "Fix helper binary permissions",
				Description: "The helper binary exists but lacks the execute bit",
				Steps: []string{
					"Run: chmod 0755 <helper path>",
					"Re-run the health check",
				},
				Automated:     false,
				EstimatedTime: 5 * time.Second,
				Impact:        "Low - permission fix only",
				Category:      "helper",
			},
		},
	}

	// Pipeline-stage remediation (bench/partition/activate)
	re.rules["pipeline_stage"] = &RemediationRule{
		CheckName:    "pipeline_stage",
		ErrorPattern: "",
		Actions: []*RemediationAction{
			{
				ID:          "pipeline_rerun_from_probe",
				Priority:    PriorityHigh,
				Title:       "Re-run the pipeline from Inventory Probe",
				Description: "A prior stage's persisted RunReport is missing or stale",
				Steps: []string{
					"Run: swapforge run",
					"Inspect the Reporter's warnings for the failing stage",
				},
				Automated:     false,
				EstimatedTime: 5 * time.Minute,
				Impact:        "Medium - requires a full pipeline re-run",
				Category:      "pipeline",
			},
		},
	}

	// Scratch/log disk space remediation
	re.rules["scratch_disk_space"] = &RemediationRule{
		CheckName:    "scratch_disk_space",
		ErrorPattern: "",
		Actions: []*RemediationAction{
			{
				ID:          "scratch_clean_bench_artifacts",
				Priority:    PriorityCritical,
				Title:       "Clean up stale benchmark artifacts",
				Description: "Remove old persisted sweep results to free scratch space",
				Steps: []string{
					"Inspect the configured PersistDir for old bench-<timestamp>.json files",
					"Remove artifacts older than the last completed run",
					"Re-run the disk space check",
				},
				Automated:     false,
				EstimatedTime: 1 * time.Minute,
				Impact:        "Low - only stale artifacts are removed",
				Category:      "disk",
			},
		},
	}
}

// GetRemediations returns remediation actions for a specific check
func (re *RemediationEngine) GetRemediations(checkName string) []*RemediationAction {
	if rule, exists := re.rules[checkName]; exists {
		return rule.Actions
	}
	return nil
}

// RegisterRemediationRule registers a custom remediation rule
func (re *RemediationEngine) RegisterRemediationRule(rule *RemediationRule) {
	re.rules[rule.CheckName] = rule
}

// RegisterAutoFix registers an automated fix function
func (re *RemediationEngine) RegisterAutoFix(actionID string, fixFunc AutoFixFunc) {
	re.autoFixFn[actionID] = fixFunc
}
