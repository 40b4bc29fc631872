package appointments

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func madrid(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestLegacyOffset(t *testing.T) {
	for m := time.January; m <= time.December; m++ {
		want := time.Hour
		if m >= time.April && m <= time.October {
			want = 2 * time.Hour
		}
		if got := LegacyOffset(m); got != want {
			t.Errorf("LegacyOffset(%s) = %s, want %s", m, got, want)
		}
	}
}

func TestParseLocal_TimezoneDatabase(t *testing.T) {
	clock := NewClockAt(madrid(t), false, time.Now())

	cases := map[string]string{
		"2025-03-29T12:00":          "2025-03-29T11:00:00Z", // CET
		"2025-03-31T12:00:00":       "2025-03-31T10:00:00Z", // CEST after the switch
		"2025-07-10T12:00":          "2025-07-10T10:00:00Z",
		"2025-07-10T12:00:00+00:00": "2025-07-10T12:00:00Z",
	}
	for raw, want := range cases {
		got, err := clock.ParseLocal(raw)
		if err != nil {
			t.Fatalf("ParseLocal(%q): %v", raw, err)
		}
		if got.UTC().Format(time.RFC3339) != want {
			t.Errorf("ParseLocal(%q) = %s, want %s", raw, got.UTC().Format(time.RFC3339), want)
		}
	}
}

func TestParseLocal_LegacyOffsets(t *testing.T) {
	clock := NewClockAt(madrid(t), true, time.Now())

	cases := map[string]string{
		"2025-03-31T12:00": "2025-03-31T11:00:00Z", // March is always +1 in legacy mode
		"2025-04-01T12:00": "2025-04-01T10:00:00Z",
		"2025-10-30T12:00": "2025-10-30T10:00:00Z", // real DST already ended
		"2025-11-01T12:00": "2025-11-01T11:00:00Z",
	}
	for raw, want := range cases {
		got, err := clock.ParseLocal(raw)
		if err != nil {
			t.Fatalf("ParseLocal(%q): %v", raw, err)
		}
		if got.UTC().Format(time.RFC3339) != want {
			t.Errorf("ParseLocal(%q) = %s, want %s", raw, got.UTC().Format(time.RFC3339), want)
		}
	}
}

func TestParseLocal_Invalid(t *testing.T) {
	clock := NewClockAt(madrid(t), false, time.Now())
	if _, err := clock.ParseLocal("mañana a las 12"); err == nil {
		t.Fatalf("expected error for free text")
	}
}

func TestTodayTomorrowInClinicZone(t *testing.T) {
	// 22:30 UTC on June 15 is already June 16 in Madrid.
	now := time.Date(2025, 6, 15, 22, 30, 0, 0, time.UTC)
	clock := NewClockAt(madrid(t), false, now)

	if got := clock.Today().Format("2006-01-02"); got != "2025-06-16" {
		t.Fatalf("today = %s", got)
	}
	if got := clock.Tomorrow().Format("2006-01-02"); got != "2025-06-17" {
		t.Fatalf("tomorrow = %s", got)
	}

	start, end := clock.DayBounds(clock.Tomorrow())
	if end.Sub(start) != 24*time.Hour {
		t.Fatalf("unexpected day length %s", end.Sub(start))
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("09:30")
	if err != nil || h != 9 || m != 30 {
		t.Fatalf("ParseClock = %d:%d %v", h, m, err)
	}
	if _, _, err := ParseClock("9h"); err == nil {
		t.Fatalf("expected error")
	}
}
