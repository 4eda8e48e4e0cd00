package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		n, parts int
		want     []Range
	}{
		{0, 4, nil},
		{3, 0, []Range{{0, 3}}},
		{3, 5, []Range{{0, 1}, {1, 2}, {2, 3}}},
		{10, 3, []Range{{0, 4}, {4, 7}, {7, 10}}},
	}
	for _, tt := range tests {
		got := Split(tt.n, tt.parts)
		if len(got) != len(tt.want) {
			t.Fatalf("Split(%d, %d) = %v, want %v", tt.n, tt.parts, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Split(%d, %d)[%d] = %v, want %v", tt.n, tt.parts, i, got[i], tt.want[i])
			}
		}
	}
}

func TestNewDefaultsWorkers(t *testing.T) {
	if New(0).Workers() <= 0 {
		t.Error("New(0) should select a positive worker count")
	}
	if got := New(3).Workers(); got != 3 {
		t.Errorf("Workers() = %d, want 3", got)
	}
}

func TestForEachVisitsEveryIndex(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		p := New(workers)
		const n = 1000
		seen := make([]int32, n)
		err := p.ForEach(context.Background(), n, func(i int) error {
			atomic.AddInt32(&seen[i], 1)
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach: %v", err)
		}
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("workers=%d: index %d visited %d times", workers, i, c)
			}
		}
	}
}

func TestForEachRangeChunks(t *testing.T) {
	p := New(4)
	sums := make([]int, p.Workers())
	err := p.ForEachRange(context.Background(), 100, func(chunk int, r Range) error {
		for i := r.Lo; i < r.Hi; i++ {
			sums[chunk] += i
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachRange: %v", err)
	}
	total := 0
	for _, s := range sums {
		total += s
	}
	if total != 4950 {
		t.Errorf("total = %d, want 4950", total)
	}
}

func TestForEachReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := New(2).ForEach(context.Background(), 500, func(i int) error {
		if i == 10 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestForEachCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(2).ForEach(ctx, 100, func(int) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMapPreservesOrder(t *testing.T) {
	in := make([]int, 300)
	for i := range in {
		in[i] = i
	}
	out, err := Map(context.Background(), New(4), in, func(v int) (int, error) {
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	for i, v := range out {
		if v != i*2 {
			t.Fatalf("out[%d] = %d, want %d", i, v, i*2)
		}
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-15T10:30:00Z", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00.250", time.Date(2024, 1, 15, 10, 30, 0, 250_000_000, time.UTC)},
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2024/01/15 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTime([]byte(tt.in))
		if err != nil {
			t.Errorf("ParseTime(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	got, err := ParseTime([]byte("2024-01-15T10:30:00+02:00"))
	if err != nil {
		t.Fatalf("offset: %v", err)
	}
	if want := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("offset = %v, want %v", got, want)
	}

	for _, bad := range []string{"", "hello", "2024-13-01", "2024-01-15Tab:00:00"} {
		if _, err := ParseTime([]byte(bad)); err == nil {
			t.Errorf("ParseTime(%q) should fail", bad)
		}
	}
}

func TestParseTimeRejectsDayPastMonthEnd(t *testing.T) {
	for _, bad := range []string{"2024-02-31 00:00:00", "2023-02-29", "2024-04-31T12:00:00Z", "2024/06/31 00:00:00"} {
		if got, err := ParseTime([]byte(bad)); err == nil {
			t.Errorf("ParseTime(%q) = %v, want error", bad, got)
		}
	}

	got, err := ParseTime([]byte("2024-02-29 00:00:00"))
	if err != nil {
		t.Fatalf("leap day: %v", err)
	}
	if want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("leap day = %v, want %v", got, want)
	}
	if _, err := ParseTime([]byte("2024-12-31")); err != nil {
		t.Errorf("month end: %v", err)
	}
}

func TestLooksLikeTimestamp(t *testing.T) {
	yes := []string{"2024-01-15", "2024-01-15T10:00:00", "15/01/2024"}
	no := []string{"12345678", "abc", "1.5", "2024"}
	for _, s := range yes {
		if !LooksLikeTimestamp([]byte(s)) {
			t.Errorf("LooksLikeTimestamp(%q) = false", s)
		}
	}
	for _, s := range no {
		if LooksLikeTimestamp([]byte(s)) {
			t.Errorf("LooksLikeTimestamp(%q) = true", s)
		}
	}
}

func TestExcelSerialTime(t *testing.T) {
	got := ExcelSerialTime(45306.5)
	want := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ExcelSerialTime = %v, want %v", got, want)
	}
}
