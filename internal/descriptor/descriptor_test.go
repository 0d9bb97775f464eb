package descriptor

import (
	"errors"
	"math"
	"testing"

	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

func sig(seed float64) types.FaceSignature {
	var s types.FaceSignature
	for i := range s {
		s[i] = math.Sin(seed*float64(i+1)) * 0.1
	}
	return s
}

func TestAggregate_Empty(t *testing.T) {
	if _, err := Aggregate(nil); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples, got %v", err)
	}
}

func TestAggregate_SingleSampleUnchanged(t *testing.T) {
	s := sig(1.3)
	got, err := Aggregate([]types.FaceSignature{s})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if got != s {
		t.Errorf("expected single sample to come back unchanged")
	}
}

func TestAggregate_ElementWiseMean(t *testing.T) {
	samples := []types.FaceSignature{sig(1), sig(2), sig(3), sig(4), sig(5)}

	got, err := Aggregate(samples)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	for i := 0; i < types.SignatureDim; i++ {
		want := (samples[0][i] + samples[1][i] + samples[2][i] + samples[3][i] + samples[4][i]) / 5
		if math.Abs(got[i]-want) > 1e-12 {
			t.Fatalf("position %d: got %v, want %v", i, got[i], want)
		}
	}
}

func TestAggregate_OrderIndependent(t *testing.T) {
	a, b, c := sig(0.7), sig(1.9), sig(-2.4)

	orders := [][]types.FaceSignature{
		{a, b, c},
		{c, b, a},
		{b, a, c},
		{c, a, b},
	}

	first, err := Aggregate(orders[0])
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	for _, o := range orders[1:] {
		got, err := Aggregate(o)
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		for i := range got {
			if math.Abs(got[i]-first[i]) > 1e-9 {
				t.Fatalf("permutation changed position %d: %v vs %v", i, got[i], first[i])
			}
		}
	}
}

func TestAggregate_DoesNotMutateInput(t *testing.T) {
	samples := []types.FaceSignature{sig(1), sig(2)}
	before := samples[0]
	if _, err := Aggregate(samples); err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if samples[0] != before {
		t.Error("input sample was modified")
	}
}
