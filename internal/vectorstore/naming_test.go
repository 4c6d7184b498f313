package vectorstore

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectionKey_Deterministic(t *testing.T) {
	first := CollectionKey("Abdul218")
	require.Equal(t, first, CollectionKey("Abdul218"))
	require.Equal(t, "patient_Abdul218_823c3c23", first)
}

func TestCollectionKey_Sanitizes(t *testing.T) {
	cases := map[string]string{
		"a/b  c":                "patient_a_b_c_de372751",
		"___":                   "patient__948a13f1",
		strings.Repeat("x", 40): "patient_xxxxxxxxxxxxxxxxxxxx_2e5a5df3",
		"Abdul218_Kshlerin58_f3b2c9d0-1111-2222-3333-444455556666": "patient_Abdul218_Kshlerin58_5474fbab",
	}
	for in, want := range cases {
		require.Equal(t, want, CollectionKey(in), in)
	}
}

func TestCollectionKey_Shape(t *testing.T) {
	shape := regexp.MustCompile(`^patient_[a-zA-Z0-9_]*[0-9a-f]{8}$`)
	for _, id := range []string{"", "é/ü", "12345678-aaaa-bbbb-cccc-1234567890ab", strings.Repeat("-_-", 50)} {
		key := CollectionKey(id)
		require.LessOrEqual(t, len(key), maxCollectionKeyLen)
		require.Regexp(t, shape, key)
		require.True(t, validKey.MatchString(key))
	}
	require.NotEqual(t, CollectionKey("patient-1"), CollectionKey("patient_1"))
}

func TestCosineDistance(t *testing.T) {
	require.InDelta(t, 0, cosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-9)
	require.InDelta(t, 1, cosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.Equal(t, float64(1), cosineDistance([]float32{1, 0}, []float32{-1, 0}))
	require.Equal(t, float64(1), cosineDistance([]float32{1}, []float32{1, 2}))
	require.Equal(t, float64(1), cosineDistance([]float32{0, 0}, []float32{1, 2}))
}
