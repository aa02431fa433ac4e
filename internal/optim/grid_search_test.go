package optim

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestGridSearchFindsMinimum(t *testing.T) {
	g := NewGridSearch([]string{"a", "b"}, [][]float64{{-1, 0, 1, 2}, {0.5, 1, 1.5}})
	if g.Size() != 12 {
		t.Fatalf("size = %d, want 12", g.Size())
	}

	calls := 0
	params, best, err := g.Search(context.Background(), func(_ context.Context, p map[string]float64) (float64, error) {
		calls++
		return math.Pow(p["a"]-1, 2) + math.Pow(p["b"]-1.5, 2), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 12 {
		t.Errorf("calls = %d, want 12", calls)
	}
	if params["a"] != 1 || params["b"] != 1.5 || best != 0 {
		t.Errorf("got %v (%v), want a=1 b=1.5 (0)", params, best)
	}
}

func TestGridSearchSkipsFailures(t *testing.T) {
	g := NewGridSearch([]string{"x"}, [][]float64{{1, 2, 3}})
	params, best, err := g.Search(context.Background(), func(_ context.Context, p map[string]float64) (float64, error) {
		switch p["x"] {
		case 1:
			return 0, errors.New("boom")
		case 2:
			return math.NaN(), nil
		}
		return 7, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if params["x"] != 3 || best != 7 {
		t.Errorf("got %v (%v), want x=3 (7)", params, best)
	}
}

func TestGridSearchNoCandidate(t *testing.T) {
	g := NewGridSearch([]string{"x"}, [][]float64{{1}})
	_, _, err := g.Search(context.Background(), func(context.Context, map[string]float64) (float64, error) {
		return math.NaN(), nil
	})
	if !errors.Is(err, ErrNoCandidate) {
		t.Errorf("err = %v, want ErrNoCandidate", err)
	}
}

func TestGridSearchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGridSearch([]string{"x"}, [][]float64{{1, 2}})
	_, _, err := g.Search(ctx, func(context.Context, map[string]float64) (float64, error) { return 0, nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
