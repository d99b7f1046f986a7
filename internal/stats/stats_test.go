package stats

import (
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanStdDev_Population(t *testing.T) {
	mean, std, err := MeanStdDev([]float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, mean, 1e-12)
	// population: sqrt(10/5), not the sample sqrt(10/4)
	assert.InDelta(t, math.Sqrt2, std, 1e-12)
}

func TestMeanStdDev_SingleValue(t *testing.T) {
	mean, std, err := MeanStdDev([]float64{2.5})
	require.NoError(t, err)
	assert.Equal(t, 2.5, mean)
	assert.Zero(t, std)
}

func TestEmptyInput(t *testing.T) {
	_, _, err := MeanStdDev(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Median([]float64{})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = MAD(nil, 0)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"odd count true middle", []float64{1, 2, 3, 4, 5}, 3},
		{"odd count unsorted", []float64{5, 1, 4, 2, 3}, 3},
		{"single", []float64{7}, 7},
		{"pair", []float64{2, 4}, 3},
		{"even with outlier", []float64{1, 2, 3, 10}, 2.5},
		{"even with duplicates", []float64{1, 9, 9, 10}, 9},
		{"even unsorted", []float64{10, 1, 9, 9}, 9},
		{"even low duplicates", []float64{1, 1, 3, 10}, 2},
		{"all equal", []float64{4, 4, 4, 4, 4, 4}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Median(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestMedian_DoesNotModifyInput(t *testing.T) {
	in := []float64{9, 3, 7, 1}
	_, err := Median(in)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 3, 7, 1}, in)
}

// The even-count rule is rank N/2 averaged with the max of everything ranked
// below it. Check it against that definition computed directly.
func TestMedian_MatchesSelectionRule(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 1; n <= 40; n++ {
		for trial := 0; trial < 20; trial++ {
			x := make([]float64, n)
			for i := range x {
				// coarse values force plenty of ties
				x[i] = float64(rng.Intn(6))
			}
			sorted := append([]float64(nil), x...)
			sort.Float64s(sorted)

			mid := n / 2
			want := sorted[mid]
			if n%2 == 0 {
				lowerMax := sorted[0]
				for _, v := range sorted[:mid] {
					lowerMax = math.Max(lowerMax, v)
				}
				want = 0.5 * (want + lowerMax)
			}

			got, err := Median(x)
			require.NoError(t, err)
			require.Equal(t, want, got, "n=%d input=%v", n, x)
		}
	}
}

func TestMedian_TiedValuesScale(t *testing.T) {
	// a stationary player: almost every speed is zero
	n := 1 << 21
	x := make([]float64, n)
	x[n/3] = 4

	start := time.Now()
	med, err := Median(x)
	require.NoError(t, err)
	assert.Zero(t, med)

	mad, err := MAD(x, med)
	require.NoError(t, err)
	assert.Zero(t, mad)
	assert.Less(t, time.Since(start), 5*time.Second, "tied input must not go quadratic")
}

func TestMAD(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	med, err := Median(x)
	require.NoError(t, err)
	mad, err := MAD(x, med)
	require.NoError(t, err)
	// deviations [2,1,0,1,2]
	assert.InDelta(t, 1.0, mad, 1e-12)
	assert.InDelta(t, 7.4478, RobustThreshold(med, mad), 1e-9)
}

func TestMAD_EvenCount(t *testing.T) {
	// deviations from 2.5: [1.5, 0.5, 0.5, 7.5] -> rank 2 is 1.5, left max 0.5
	mad, err := MAD([]float64{1, 2, 3, 10}, 2.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mad, 1e-12)
}

func TestThresholdHelpers(t *testing.T) {
	assert.InDelta(t, 3+3*math.Sqrt2, SigmaThreshold(3, math.Sqrt2), 1e-12)
	assert.Equal(t, 2.0, RobustThreshold(2, 0))
}
