package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/swapforge/swapforge/pkg/errors"
	"github.com/swapforge/swapforge/pkg/types"
)

// matrixBlockSizesKB and matrixConcurrencies are the 6x7 grid spec
// §4.3.3 walks.
var (
	matrixBlockSizesKB  = []int{4, 8, 16, 32, 64, 128}
	matrixConcurrencies = []int{1, 2, 4, 6, 8, 12, 16}
)

type ioGenResult struct {
	ReadMBPerS     float64 `json:"read_mb_per_s"`
	WriteMBPerS    float64 `json:"write_mb_per_s"`
	CombinedMBPerS float64 `json:"combined_mb_per_s"`
}

// runMatrix sweeps every (block_size, concurrency) combination, running
// cmd/swapiogen once per cell against a scratch file on the root
// filesystem. A single cell failing (helper crash, timeout) is recorded
// as a zeroed, anomalous cell and aggregated via multierr rather than
// aborting the remaining cells, per spec §7's BENCH downgrade-without-abort
// policy.
func (e *Engine) runMatrix(ctx context.Context, durationS int) ([]types.MatrixCell, types.OptimalRows, error) {
	scratchFile := filepath.Join(e.scratchDir, "swapforge-matrix.bin")
	defer os.Remove(scratchFile)

	var cells []types.MatrixCell
	var errs error

	for _, bs := range matrixBlockSizesKB {
		for _, conc := range matrixConcurrencies {
			cell, err := e.runMatrixCell(ctx, scratchFile, bs, conc, durationS)
			if err != nil {
				errs = multierr.Append(errs, err)
				cell = types.MatrixCell{
					BlockSizeKB: bs,
					Concurrency: conc,
					Anomalous:   true,
					AnomalousReason: fmt.Sprintf("cell failed: %v", err),
				}
			}
			if e.metrics != nil {
				e.metrics.RecordBenchCell(bs, conc, cell.CombinedMBPerS)
			}
			cells = append(cells, cell)
		}
	}

	optimal := computeOptimal(cells)
	flagContradictoryOptimum(cells, &optimal)

	if errs != nil {
		e.logger.WithComponent("bench").Warn("matrix test had cell failures", map[string]interface{}{
			"error_count": len(multierr.Errors(errs)),
		})
	}
	return cells, optimal, nil
}

// runMatrixCell runs one grid cell through the recovery manager, so a
// single swapiogen hiccup (a busy scratch file, a momentarily starved
// scheduler) gets the transient retry spec §7 expects of the bench
// component instead of immediately marking the cell anomalous; repeated
// cell failures escalate to the circuit breaker per determineStrategy,
// which then fails fast for the rest of the matrix rather than retrying
// a systemically broken ioGenBinary cell by cell.
func (e *Engine) runMatrixCell(ctx context.Context, scratchFile string, blockSizeKB, concurrency, durationS int) (types.MatrixCell, error) {
	result, err := e.recoveryMgr.ExecuteWithResult(ctx, "bench", "matrix_cell", func() (interface{}, error) {
		cell, err := e.execMatrixCell(ctx, scratchFile, blockSizeKB, concurrency, durationS)
		return cell, err
	})
	if err != nil {
		return types.MatrixCell{}, err
	}
	return result.(types.MatrixCell), nil
}

func (e *Engine) execMatrixCell(ctx context.Context, scratchFile string, blockSizeKB, concurrency, durationS int) (types.MatrixCell, error) {
	cctx, cancel := context.WithTimeout(ctx, cellTimeout(durationS))
	defer cancel()

	cmd := exec.CommandContext(cctx, e.ioGenBinary,
		"-file", scratchFile,
		"-blocksize-kb", fmt.Sprintf("%d", blockSizeKB),
		"-concurrency", fmt.Sprintf("%d", concurrency),
		"-duration-s", fmt.Sprintf("%d", durationS),
		"-queue-depth", "4",
		"-file-size-mb", "256",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return types.MatrixCell{}, errors.New(errors.KindBench, "swapiogen cell failed").
			WithComponent("bench").WithOperation("matrix_test").
			WithDetail("block_size_kb", blockSizeKB).WithDetail("concurrency", concurrency).
			WithDetail("stderr", stderr.String()).WithCause(err)
	}

	var result ioGenResult
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &result); err != nil {
		return types.MatrixCell{}, errors.New(errors.KindBench, "failed to parse swapiogen output").
			WithComponent("bench").WithCause(err)
	}

	return types.MatrixCell{
		BlockSizeKB:    blockSizeKB,
		Concurrency:    concurrency,
		ReadMBPerS:     result.ReadMBPerS,
		WriteMBPerS:    result.WriteMBPerS,
		CombinedMBPerS: result.CombinedMBPerS,
	}, nil
}

// cellTimeout gives each cell the configured duration plus a fixed grace
// period for process startup and the scratch file's first fallocate, so a
// merely slow cell isn't mistaken for a hung one.
func cellTimeout(durationS int) time.Duration {
	return time.Duration(durationS)*time.Second + 30*time.Second
}

func computeOptimal(cells []types.MatrixCell) types.OptimalRows {
	var opt types.OptimalRows
	for i, c := range cells {
		if c.ReadMBPerS > cells[opt.BestRead].ReadMBPerS {
			opt.BestRead = i
		}
		if c.WriteMBPerS > cells[opt.BestWrite].WriteMBPerS {
			opt.BestWrite = i
		}
		if c.CombinedMBPerS > cells[opt.BestCombined].CombinedMBPerS {
			opt.BestCombined = i
		}
	}
	return opt
}

// flagContradictoryOptimum marks the matrix anomalous (spec §8 scenario:
// "matrix test produces a contradictory optimum") when the best-combined
// cell sits on one of the grid's outer edges and no other cell anywhere in
// the grid reaches 50% of its throughput — a pattern far more consistent with measurement
// noise than a genuine optimum, since real disk I/O throughput curves are
// smooth in both block size and concurrency.
func flagContradictoryOptimum(cells []types.MatrixCell, optimal *types.OptimalRows) {
	if len(cells) == 0 {
		return
	}
	best := cells[optimal.BestCombined]
	isEdge := best.BlockSizeKB == matrixBlockSizesKB[0] || best.BlockSizeKB == matrixBlockSizesKB[len(matrixBlockSizesKB)-1] ||
		best.Concurrency == matrixConcurrencies[0] || best.Concurrency == matrixConcurrencies[len(matrixConcurrencies)-1]
	if !isEdge {
		return
	}
	neighborWithinTolerance := false
	for _, c := range cells {
		if c.BlockSizeKB == best.BlockSizeKB && c.Concurrency == best.Concurrency {
			continue
		}
		if c.CombinedMBPerS >= best.CombinedMBPerS*0.5 {
			neighborWithinTolerance = true
			break
		}
	}
	if !neighborWithinTolerance {
		cells[optimal.BestCombined].Anomalous = true
		cells[optimal.BestCombined].AnomalousReason = "best-combined cell is an isolated spike at a grid edge with no comparable neighbor"
	}
}
