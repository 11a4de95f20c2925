package sampler

import "testing"

func TestPick_DeterministicAcrossCalls(t *testing.T) {
	order := []string{"a", "b", "c"}
	sums := []float64{0.2, 0.7, 1.0}

	first, err := Pick("my_function", "episode-123", order, sums)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 50; i++ {
		got, err := Pick("my_function", "episode-123", order, sums)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != first {
			t.Fatalf("Pick not deterministic: got %q then %q", first, got)
		}
	}
}

func TestPick_DifferentEpisodesCanDiffer(t *testing.T) {
	order := []string{"a", "b"}
	sums := []float64{0.5, 1.0}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		episode := "episode-" + string(rune('A'+i%26)) + string(rune('0'+i%10))
		v, err := Pick("f", episode, order, sums)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[v] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected sampling to reach both variants across many episodes, got %v", seen)
	}
}

func TestPick_NoVariants(t *testing.T) {
	_, err := Pick("f", "e", nil, nil)
	if err == nil {
		t.Fatal("expected error for empty variant order")
	}
}

func TestPick_AlwaysReturnsFromOrder(t *testing.T) {
	order := []string{"only"}
	sums := []float64{1.0}
	v, err := Pick("f", "episode-x", order, sums)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "only" {
		t.Errorf("expected %q, got %q", "only", v)
	}
}
