package resolve

import (
	"errors"
	"testing"
	"time"
)

func TestResolve_TomorrowAtNine(t *testing.T) {
	r := New(Config{Bias: BiasFuture})
	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := r.Resolve("remind me tomorrow at 9am to call Bob", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("resolved %v, want %v", got, want)
	}
}

func TestResolve_RelativeDuration(t *testing.T) {
	r := New(Config{Bias: BiasFuture})
	ref := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	got, err := r.Resolve("remind me in 2 hours to stretch", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := ref.Add(2 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("resolved %v, want %v", got, want)
	}
}

func TestResolve_NoSignalIsAmbiguous(t *testing.T) {
	r := New(Config{Bias: BiasFuture})
	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	inputs := []string{
		"call Bob",
		"buy milk and eggs",
		"",
	}

	for _, input := range inputs {
		if _, err := r.Resolve(input, ref); !errors.Is(err, ErrAmbiguous) {
			t.Errorf("Resolve(%q) = %v, want ErrAmbiguous", input, err)
		}
	}
}

func TestResolve_FutureBiasRollsForward(t *testing.T) {
	r := New(Config{Bias: BiasFuture})
	// Reference is past 9am; a bare "at 9am" must resolve to the next day.
	ref := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	got, err := r.Resolve("remind me at 9am", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !got.After(ref) {
		t.Errorf("resolved %v is not after reference %v", got, ref)
	}
	if got.Hour() != 9 || got.Minute() != 0 {
		t.Errorf("resolved clock time %02d:%02d, want 09:00", got.Hour(), got.Minute())
	}
}

func TestResolve_DeterministicForFixedReference(t *testing.T) {
	r := New(Config{Bias: BiasFuture})
	ref := time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC)

	first, err := r.Resolve("tomorrow at noon", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := r.Resolve("tomorrow at noon", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !first.Equal(second) {
		t.Errorf("same input and reference resolved differently: %v vs %v", first, second)
	}
}
