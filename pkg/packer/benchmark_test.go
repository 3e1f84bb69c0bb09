package packer

import (
	"strings"
	"testing"
	"time"
)

func BenchmarkPacker_WriteDocument(b *testing.B) {
	b.StopTimer()
	var doc strings.Builder
	for i := 0; i < 4096; i++ {
		doc.WriteString("1 2 3 4 5 6 7 8 9 10 11 12 13 14 15 16\n")
		if i%64 == 63 {
			doc.WriteString("\n")
		}
	}
	text := doc.String()
	p, err := New(Config{
		OutputDir:          b.TempDir(),
		NumWorkers:         1,
		ShardCount:         8,
		MaxSeqLength:       128,
		BlanksSeparateDocs: true,
		BoundaryId:         NoBoundary,
	}, numberEncoder{})
	if err != nil {
		b.Fatal(err)
	}
	start := time.Now()
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		if err := p.WriteDocument("bench", strings.NewReader(text)); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	summary, err := p.Finish()
	if err != nil {
		b.Fatal(err)
	}
	elapsed := time.Since(start)
	b.ReportMetric(float64(summary.Tokens)/elapsed.Seconds(), "tokens/sec")
	b.ReportMetric(float64(summary.Examples), "examples")
}
