package ratelimit

import (
	"testing"
)

func TestParseRate(t *testing.T) {
	cases := []struct {
		in     any
		expect int64
	}{
		{nil, 0},
		{"", 0},
		{31250, 31250},
		{int64(100), 100},
		{float64(12.9), 12},
		{"4096", 4096},
		{"250 kbps", 31250},
		{"250kbps", 31250},
		{"8 bps", 1},
		{"1 Mbps", 125000},
		{"1.5 MB/s", 1500000},
		{"2 KiB/s", 2048},
	}

	for _, c := range cases {
		got, err := ParseRate(c.in)
		if err != nil {
			t.Fatalf("failed to parse %v: %v", c.in, err)
		}
		if got != c.expect {
			t.Fatalf("rate of %v not match, expect %d, but got %d", c.in, c.expect, got)
		}
	}
}

func TestParseRateErrors(t *testing.T) {
	for _, in := range []any{"fast", "10 furlongs", -1, true} {
		if _, err := ParseRate(in); err == nil {
			t.Fatalf("expect error for %v", in)
		}
	}
}
