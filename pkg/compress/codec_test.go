package compress

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func payload() []byte {
	return bytes.Repeat([]byte("almanac cross-chain event payload, repeated for compressibility. "), 64)
}

func TestCompressDecompress_RoundTrip(t *testing.T) {
	for _, algo := range []Algorithm{AlgoLz4, AlgoZstd, AlgoGzip, AlgoBrotli, AlgoSnappy} {
		t.Run(string(algo), func(t *testing.T) {
			c := NewCodec()
			data := payload()
			out, res, err := c.Compress(context.Background(), data, Config{Algorithm: algo, VerifyIntegrity: true})
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if res.Algorithm != algo {
				t.Fatalf("expected algorithm %s, got %s", algo, res.Algorithm)
			}
			rt, err := c.Decompress(out, algo)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(rt, data) {
				t.Fatal("round-trip mismatch")
			}
		})
	}
}

func TestCompress_BelowThresholdPassesThrough(t *testing.T) {
	c := NewCodec()
	data := []byte("short")
	out, res, err := c.Compress(context.Background(), data, Config{Algorithm: AlgoGzip, MinSizeThreshold: 4096})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if res.Algorithm != AlgoNone || !bytes.Equal(out, data) {
		t.Fatalf("expected passthrough, got algorithm=%s", res.Algorithm)
	}
}

func TestCompress_AdaptiveMeetsTargetRatio(t *testing.T) {
	c := NewCodec()
	data := payload()
	_, res, err := c.Compress(context.Background(), data, Config{Adaptive: true, TargetRatio: 0.5})
	if err != nil {
		t.Fatalf("adaptive compress: %v", err)
	}
	// The repeated payload compresses far below 0.5 with the first algorithm tried.
	if res.Ratio > 0.5 {
		t.Fatalf("expected adaptive compression to meet target ratio 0.5, got %.3f", res.Ratio)
	}
}

func TestCompress_TimeoutExceeded(t *testing.T) {
	c := NewCodec()
	data := payload()
	_, _, err := c.Compress(context.Background(), data, Config{Algorithm: AlgoGzip, MaxCompressionTime: time.Nanosecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestCodec_StatsAccumulate(t *testing.T) {
	c := NewCodec()
	data := payload()
	for i := 0; i < 3; i++ {
		if _, _, err := c.Compress(context.Background(), data, Config{Algorithm: AlgoGzip}); err != nil {
			t.Fatalf("compress: %v", err)
		}
	}
	stats := c.Stats()
	if stats.TotalEvents() != 3 {
		t.Fatalf("expected 3 recorded events, got %d", stats.TotalEvents())
	}
	if stats.PerAlgorithm()[AlgoGzip] != 3 {
		t.Fatalf("expected 3 gzip events recorded, got %d", stats.PerAlgorithm()[AlgoGzip])
	}
}
