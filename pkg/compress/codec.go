package compress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec implements the §4.9 compress/decompress contract over the algorithm set named
// by Config.Algorithm, plus the adaptive mode that tries adaptivePriority in order.
type Codec struct {
	custom map[Algorithm]CustomCodec
	stats  *statsAccumulator
}

// NewCodec returns a Codec with fresh statistics.
func NewCodec() *Codec {
	return &Codec{custom: make(map[Algorithm]CustomCodec), stats: NewStats()}
}

// RegisterCustom wires a CustomCodec implementation for AlgoCustom. Grounded on the
// validator's CustomRules extension point: the spec names Custom in its enum but leaves
// the scheme undefined, so callers supply their own.
func (c *Codec) RegisterCustom(codec CustomCodec) {
	c.custom[AlgoCustom] = codec
}

// Stats returns the codec's running statistics.
func (c *Codec) Stats() Stats {
	return c.stats.Snapshot()
}

// Compress applies cfg.Algorithm to data, or runs adaptive selection when cfg.Adaptive
// is set. Data below cfg.MinSizeThreshold passes through uncompressed (AlgoNone).
func (c *Codec) Compress(ctx context.Context, data []byte, cfg Config) ([]byte, Result, error) {
	if cfg.MinSizeThreshold > 0 && len(data) < cfg.MinSizeThreshold {
		res := Result{Algorithm: AlgoNone, OriginalSize: len(data), CompressedSize: len(data), Ratio: 1}
		c.stats.record(res, nil)
		return data, res, nil
	}

	if cfg.Adaptive {
		return c.compressAdaptive(ctx, data, cfg)
	}

	out, res, err := c.compressOne(ctx, data, cfg.Algorithm, cfg.Level, cfg.MaxCompressionTime)
	if err != nil && cfg.FallbackAlgorithm != "" && cfg.FallbackAlgorithm != cfg.Algorithm {
		out, res, err = c.compressOne(ctx, data, cfg.FallbackAlgorithm, cfg.Level, cfg.MaxCompressionTime)
	}
	if err != nil {
		c.stats.record(Result{Algorithm: cfg.Algorithm, OriginalSize: len(data)}, err)
		return nil, Result{}, err
	}

	if cfg.VerifyIntegrity {
		rt, derr := c.Decompress(out, res.Algorithm)
		if derr != nil || !bytes.Equal(rt, data) {
			c.stats.record(res, ErrIntegrityCheck)
			return nil, Result{}, ErrIntegrityCheck
		}
	}

	c.stats.record(res, nil)
	return out, res, nil
}

// compressAdaptive tries adaptivePriority in order and returns the first result meeting
// cfg.TargetRatio, else the best (lowest-ratio) result observed, per §4.9.
func (c *Codec) compressAdaptive(ctx context.Context, data []byte, cfg Config) ([]byte, Result, error) {
	var best []byte
	var bestRes Result
	haveBest := false

	for _, algo := range adaptivePriority {
		out, res, err := c.compressOne(ctx, data, algo, cfg.Level, cfg.MaxCompressionTime)
		if err != nil {
			continue
		}
		if !haveBest || res.Ratio < bestRes.Ratio {
			best, bestRes, haveBest = out, res, true
		}
		if cfg.TargetRatio > 0 && res.Ratio <= cfg.TargetRatio {
			c.stats.record(res, nil)
			return out, res, nil
		}
	}

	if !haveBest {
		err := fmt.Errorf("compress: adaptive selection failed: %w", ErrUnsupportedAlgorithm)
		c.stats.record(Result{OriginalSize: len(data)}, err)
		return nil, Result{}, err
	}

	if cfg.VerifyIntegrity {
		rt, derr := c.Decompress(best, bestRes.Algorithm)
		if derr != nil || !bytes.Equal(rt, data) {
			c.stats.record(bestRes, ErrIntegrityCheck)
			return nil, Result{}, ErrIntegrityCheck
		}
	}

	c.stats.record(bestRes, nil)
	return best, bestRes, nil
}

func (c *Codec) compressOne(ctx context.Context, data []byte, algo Algorithm, level int, maxTime time.Duration) ([]byte, Result, error) {
	type outcome struct {
		out []byte
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		out, err := c.encode(algo, data, level)
		done <- outcome{out, err}
	}()

	var o outcome
	if maxTime > 0 {
		t := time.NewTimer(maxTime)
		defer t.Stop()
		select {
		case o = <-done:
		case <-t.C:
			return nil, Result{}, ErrCompressionTimeout
		case <-ctx.Done():
			return nil, Result{}, ctx.Err()
		}
	} else {
		select {
		case o = <-done:
		case <-ctx.Done():
			return nil, Result{}, ctx.Err()
		}
	}

	if o.err != nil {
		return nil, Result{}, o.err
	}

	ratio := 1.0
	if len(data) > 0 {
		ratio = float64(len(o.out)) / float64(len(data))
	}
	return o.out, Result{
		Algorithm:      algo,
		OriginalSize:   len(data),
		CompressedSize: len(o.out),
		Ratio:          ratio,
		Duration:       time.Since(start),
	}, nil
}

func (c *Codec) encode(algo Algorithm, data []byte, level int) ([]byte, error) {
	switch algo {
	case AlgoNone, "":
		return data, nil
	case AlgoLz4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		return buf.Bytes(), nil
	case AlgoZstd:
		// level buckets into the library's speed presets rather than zstd's 1-22 scale;
		// klauspost/compress/zstd exposes EncoderLevel, not an arbitrary int level.
		speed := zstd.SpeedDefault
		switch {
		case level >= 9:
			speed = zstd.SpeedBestCompression
		case level >= 5:
			speed = zstd.SpeedBetterCompression
		case level > 0:
			speed = zstd.SpeedFastest
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(speed))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case AlgoGzip:
		var buf bytes.Buffer
		lvl := gzip.DefaultCompression
		if level > 0 {
			lvl = level
		}
		w, err := gzip.NewWriterLevel(&buf, lvl)
		if err != nil {
			return nil, fmt.Errorf("compress: gzip: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("compress: gzip: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compress: gzip: %w", err)
		}
		return buf.Bytes(), nil
	case AlgoBrotli:
		var buf bytes.Buffer
		lvl := brotli.DefaultCompression
		if level > 0 {
			lvl = level
		}
		w := brotli.NewWriterLevel(&buf, lvl)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("compress: brotli: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compress: brotli: %w", err)
		}
		return buf.Bytes(), nil
	case AlgoSnappy:
		return snappy.Encode(nil, data), nil
	case AlgoCustom:
		codec, ok := c.custom[AlgoCustom]
		if !ok {
			return nil, ErrUnsupportedAlgorithm
		}
		return codec.Compress(data, level)
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// Decompress inverts Compress for the given algorithm tag.
func (c *Codec) Decompress(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case AlgoNone, "":
		return data, nil
	case AlgoLz4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		return out, nil
	case AlgoZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		return out, nil
	case AlgoGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("compress: gzip: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("compress: gzip: %w", err)
		}
		return out, nil
	case AlgoBrotli:
		r := brotli.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("compress: brotli: %w", err)
		}
		return out, nil
	case AlgoSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("compress: snappy: %w", err)
		}
		return out, nil
	case AlgoCustom:
		codec, ok := c.custom[AlgoCustom]
		if !ok {
			return nil, ErrUnsupportedAlgorithm
		}
		return codec.Decompress(data)
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
