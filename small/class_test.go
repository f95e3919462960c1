package small

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildExpectedSizes reproduces the class ladder by brute force: granularity
// steps through the incremental region, then a per-class delta that doubles
// every effSize classes.
func buildExpectedSizes(granularity, minAlloc, effSize, classes uint32) []uint32 {
	sizes := make([]uint32, classes+effSize)
	classSize := minAlloc - granularity
	for i := uint32(0); i < effSize; i++ {
		classSize += granularity
		sizes[i] = classSize
	}
	growth := granularity
	for i := effSize; i < classes; i += effSize {
		for j := uint32(0); j < effSize; j++ {
			classSize += growth
			sizes[i+j] = classSize
		}
		growth *= 2
	}
	return sizes
}

func TestSizeClassExpectation(t *testing.T) {
	const (
		testSizes   = 1024
		testClasses = 1024
		factor      = 1.05 // 4 effective bits
		effSize     = 16
	)
	for variant := 0; variant < 4; variant++ {
		granularity := uint32(4)
		if variant&1 != 0 {
			granularity = 1
		}
		minAlloc := granularity
		if variant&2 == 0 {
			minAlloc += 10
		}
		expected := buildExpectedSizes(granularity, minAlloc, effSize, testClasses)

		sc, err := NewSizeClass(granularity, factor, minAlloc)
		require.NoError(t, err)
		require.Equal(t, uint32(effSize), sc.EffSize(), "unexpected eff size")

		for s := uint32(0); s <= testSizes; s++ {
			expectClass := uint32(0)
			for expectClass < testClasses && s > expected[expectClass] {
				expectClass++
			}
			require.Equal(t, expectClass, sc.ClassBySize(s),
				"granularity=%d minAlloc=%d size=%d", granularity, minAlloc, s)
			require.Equal(t, expected[expectClass], sc.SizeByClass(expectClass),
				"granularity=%d minAlloc=%d class=%d", granularity, minAlloc, expectClass)
		}
	}
}

func TestSizeClassFactor(t *testing.T) {
	for granularity := uint32(1); granularity <= 4; granularity *= 4 {
		for i := 0; i < 99; i++ {
			factor := float32(1.01) + float32(i)*0.01
			sc, err := NewSizeClass(granularity, factor, granularity)
			require.NoError(t, err)

			k := float32(math.Sqrt(float64(factor)))
			require.GreaterOrEqual(t, sc.ActualFactor(), factor/k,
				"factor=%v", factor)
			require.LessOrEqual(t, sc.ActualFactor(), factor*k,
				"factor=%v", factor)

			minDeviation := float32(1)
			maxDeviation := float32(1)
			for c := sc.EffSize(); c < sc.EffSize()*3; c++ {
				realGrowth := float32(sc.SizeByClass(c+1)) / float32(sc.SizeByClass(c))
				deviation := sc.ActualFactor() / realGrowth
				if deviation < minDeviation {
					minDeviation = deviation
				}
				if deviation > maxDeviation {
					maxDeviation = deviation
				}
			}
			ln2 := float32(math.Ln2)
			require.Greater(t, minDeviation, ln2, "factor=%v", factor)
			require.Less(t, maxDeviation, 2*ln2, "factor=%v", factor)
		}
	}
}

func TestSizeClassMonotonic(t *testing.T) {
	sc, err := NewSizeClass(8, 1.1, 16)
	require.NoError(t, err)
	prev := sc.SizeByClass(0)
	for c := uint32(1); c < 512; c++ {
		size := sc.SizeByClass(c)
		require.Greater(t, size, prev, "class %d", c)
		prev = size
	}
}

func TestSizeClassRoundTrip(t *testing.T) {
	for _, granularity := range []uint32{1, 4, 8} {
		sc, err := NewSizeClass(granularity, 1.07, granularity*2)
		require.NoError(t, err)
		for s := uint32(1); s <= 100000; s++ {
			cls := sc.ClassBySize(s)
			require.GreaterOrEqual(t, sc.SizeByClass(cls), s, "size %d", s)
			if cls > 0 {
				require.Less(t, sc.SizeByClass(cls-1), s,
					"size %d not in smallest fitting class", s)
			}
			require.Equal(t, cls, sc.ClassBySize(sc.SizeByClass(cls)),
				"class of class size %d", sc.SizeByClass(cls))
		}
	}
}

func TestSizeClassValidation(t *testing.T) {
	_, err := NewSizeClass(12, 1.1, 16)
	require.ErrorIs(t, err, ErrGranularity)
	_, err = NewSizeClass(0, 1.1, 16)
	require.ErrorIs(t, err, ErrGranularity)
	_, err = NewSizeClass(8, 1.0, 16)
	require.ErrorIs(t, err, ErrFactor)
	_, err = NewSizeClass(8, 2.5, 16)
	require.ErrorIs(t, err, ErrFactor)
	_, err = NewSizeClass(8, 1.1, 4)
	require.ErrorIs(t, err, ErrMinAlloc)
}
