package bench

import (
	"math/rand"

	"github.com/klauspost/compress/zstd"

	"github.com/swapforge/swapforge/pkg/types"
)

// sanityCompressor is a throwaway, in-process zstd encoder used only to
// cross-check the kernel-measured compression_ratio against an
// independent figure for the same fill pattern. It never participates in
// the actual swap path; it exists solely to catch a miscounted
// stored_pages/pool_total_size reading before it reaches the Plan
// Calculator.
type sanityCompressor struct {
	enc *zstd.Encoder
}

func newSanityCompressor() (*sanityCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	return &sanityCompressor{enc: enc}, nil
}

func (s *sanityCompressor) close() {
	_ = s.enc.Close()
}

// ratio compresses sample and returns uncompressed/compressed, the same
// orientation as CompressorStat.CompressionRatio.
func (s *sanityCompressor) ratio(sample []byte) float64 {
	if len(sample) == 0 {
		return 1
	}
	out := s.enc.EncodeAll(sample, make([]byte, 0, len(sample)))
	if len(out) == 0 {
		return 1
	}
	return float64(len(sample)) / float64(len(out))
}

// checkAnomaly compares the kernel-reported stat against an independent
// zstd-based measurement of the same pattern. A kernel-measured ratio
// more than 2x the software estimate is a sign of same-page
// deduplication or a miscounted pool rather than a genuinely better
// compressor, so it is flagged rather than trusted outright.
func checkAnomaly(stat types.CompressorStat, sample []byte, sc *sanityCompressor) (anomalous bool, reason string) {
	if stat.CompressionRatio <= 0 {
		return true, "kernel-reported compression_ratio was zero or negative"
	}
	independent := sc.ratio(sample)
	if stat.CompressionRatio > independent*2 {
		return true, "kernel-measured compression_ratio exceeds the independent zstd estimate by more than 2x"
	}
	return false, ""
}

// samplePattern returns representative bytes for each fill pattern,
// matching cmd/swappressure's fill() exactly so the sanity check
// compresses the same bytes the kernel actually saw.
func samplePattern(pattern types.CompressionPattern, size int) []byte {
	buf := make([]byte, size)
	switch pattern {
	case types.PatternZeros:
		// already zero
	case types.PatternSequential:
		for i := range buf {
			buf[i] = byte(i % 256)
		}
	case types.PatternRandom:
		r := rand.New(rand.NewSource(1))
		_, _ = r.Read(buf)
	case types.PatternMixed:
		r := rand.New(rand.NewSource(1))
		const runLen = 4096
		for off := 0; off < len(buf); off += runLen * 2 {
			end := off + runLen
			if end > len(buf) {
				end = len(buf)
			}
			for i := off; i < end; i++ {
				buf[i] = byte(i % 256)
			}
			randEnd := off + runLen*2
			if randEnd > len(buf) {
				randEnd = len(buf)
			}
			if end < randEnd {
				_, _ = r.Read(buf[end:randEnd])
			}
		}
	}
	return buf
}
