package downloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestCopyLoopCompletesOnEOF(t *testing.T) {
	src := strings.NewReader(strings.Repeat("z", 2500))
	var dst bytes.Buffer
	var calls int
	var lastWritten int64

	res := copyLoop(context.Background(), src, &dst, 3000, 500, loopOptions{
		chunkSize: 1000,
		progress: func(written, total int64, speed, eta string) {
			calls++
			lastWritten = written
			if total != 3000 {
				t.Errorf("total = %d", total)
			}
		},
	})
	if res.Outcome != Completed || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	// 数据流耗尽即成功，即使没有写满 total
	if res.Written != 3000 || dst.Len() != 2500 {
		t.Fatalf("written = %d, buffered = %d", res.Written, dst.Len())
	}
	if calls != 3 || lastWritten != 3000 {
		t.Fatalf("progress calls = %d, last = %d", calls, lastWritten)
	}
}

func TestCopyLoopStopsBeforeNextChunk(t *testing.T) {
	src := strings.NewReader(strings.Repeat("z", 100))
	var dst bytes.Buffer
	chunks := 0

	res := copyLoop(context.Background(), src, &dst, 100, 0, loopOptions{
		chunkSize: 10,
		running:   func() bool { return chunks < 3 },
		progress:  func(int64, int64, string, string) { chunks++ },
	})
	if res.Outcome != Stopped {
		t.Fatalf("outcome = %s, want stopped", res.Outcome)
	}
	if res.Written != 30 || dst.Len() != 30 {
		t.Fatalf("written = %d", res.Written)
	}
}

func TestCopyLoopReportsReadError(t *testing.T) {
	boom := errors.New("reset by peer")
	src := io.MultiReader(strings.NewReader("abc"), iotest.ErrReader(boom))
	var dst bytes.Buffer

	res := copyLoop(context.Background(), src, &dst, -1, 0, loopOptions{chunkSize: 2})
	if res.Outcome != Failed || !errors.Is(res.Err, boom) {
		t.Fatalf("result = %+v", res)
	}
	if res.Written != 3 {
		t.Fatalf("written = %d, want 3", res.Written)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("no space left") }

func TestCopyLoopReportsWriteError(t *testing.T) {
	res := copyLoop(context.Background(), strings.NewReader("data"), failingWriter{}, 4, 0, loopOptions{})
	if res.Outcome != Failed || res.Err == nil || res.Written != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestCopyLoopHonoursLimiterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lim := newLimiter(1, 4)

	res := copyLoop(ctx, strings.NewReader(strings.Repeat("q", 64)), io.Discard, 64, 0, loopOptions{
		chunkSize: 4,
		limiter:   lim,
	})
	if res.Outcome != Failed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}
}

func TestParseContentRange(t *testing.T) {
	cases := []struct {
		in               string
		ok               bool
		start, end, size int64
	}{
		{"bytes 1000-1999/5000", true, 1000, 1999, 5000},
		{"bytes */5000", true, -1, -1, 5000},
		{"bytes 0-99/*", true, 0, 99, -1},
		{"", false, -1, -1, -1},
		{"bytes 10-5/100", false, -1, -1, -1},
		{"items 0-1/2", false, -1, -1, -1},
	}
	for _, c := range cases {
		cr, ok := parseContentRange(c.in)
		if ok != c.ok {
			t.Errorf("parseContentRange(%q) ok = %v", c.in, ok)
			continue
		}
		if ok && (cr.start != c.start || cr.end != c.end || cr.total != c.size) {
			t.Errorf("parseContentRange(%q) = %+v", c.in, cr)
		}
	}
}
