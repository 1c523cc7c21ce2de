package downloader

import (
	"math"
	"testing"
)

func TestFormatSpeed(t *testing.T) {
	cases := map[float64]string{
		0:           "0 B/s",
		512:         "512 B/s",
		1024:        "1.0 KiB/s",
		1536 * 1024: "1.5 MiB/s",
		-3:          "0 B/s",
	}
	for in, want := range cases {
		if got := FormatSpeed(in); got != want {
			t.Errorf("FormatSpeed(%v) = %q, want %q", in, got, want)
		}
	}
	if got := FormatSpeed(math.NaN()); got != "0 B/s" {
		t.Errorf("FormatSpeed(NaN) = %q", got)
	}
}

func TestFormatETA(t *testing.T) {
	cases := []struct {
		total, written int64
		bps            float64
		want           string
	}{
		{-1, 100, 10, UnknownETA},
		{100, 100, 10, "0s"},
		{1000, 0, 0, UnknownETA},
		{1000, 550, 10, "45s"},
		{3000, 0, 15, "3m20s"},
		{120, 0, 1, "2m"},
		{7500, 0, 1, "2h5m"},
		{1 << 40, 0, 1, ">=1d"},
	}
	for _, c := range cases {
		if got := FormatETA(c.total, c.written, c.bps); got != c.want {
			t.Errorf("FormatETA(%d, %d, %v) = %q, want %q", c.total, c.written, c.bps, got, c.want)
		}
	}
}
