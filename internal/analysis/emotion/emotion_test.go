package emotion

import "testing"

func TestParseLabelAcceptsTokensAndAliases(t *testing.T) {
	cases := []struct {
		raw    string
		expect Label
		ok     bool
	}{
		{raw: "疲れ", expect: Fatigue, ok: true},
		{raw: "  充実 ", expect: Fulfillment, ok: true},
		{raw: "Joy", expect: Joy, ok: true},
		{raw: "emptiness", expect: Emptiness, ok: true},
		{raw: "bored", ok: false},
		{raw: "", ok: false},
	}

	for _, tc := range cases {
		got, ok := ParseLabel(tc.raw)
		if ok != tc.ok || got != tc.expect {
			t.Fatalf("ParseLabel(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.expect, tc.ok)
		}
	}
}

func TestEveryLabelHasColor(t *testing.T) {
	labels := Labels()
	if len(labels) != 8 {
		t.Fatalf("expected 8 labels, got %d", len(labels))
	}
	for _, label := range labels {
		if _, ok := Color(label); !ok {
			t.Fatalf("label %s has no color", label)
		}
	}
	if _, ok := Color("unknown"); ok {
		t.Fatal("unknown label should have no color")
	}
}

func TestNormalizeClampsRanges(t *testing.T) {
	got := Result{Label: Joy, Score: 1.7, Valence: -3, Summary: "  よい日 "}.Normalize()
	if got.Score != 1 || got.Valence != -1 {
		t.Fatalf("unexpected clamp: %+v", got)
	}
	if got.Summary != "よい日" {
		t.Fatalf("summary not trimmed: %q", got.Summary)
	}
}

func TestFallbackIsStable(t *testing.T) {
	fb := Fallback()
	if fb.Label != Emptiness || fb.Score != 0.5 || fb.Valence != 0 || fb.Summary != "気持ちを整理中" {
		t.Fatalf("unexpected fallback: %+v", fb)
	}
}
