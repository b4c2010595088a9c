package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Add(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want Value
	}{
		{"scalar+scalar", Scalar(10), Scalar(2.5), Scalar(12.5)},
		{"array+scalar", Array(1, 2), Scalar(1), Array(2, 3)},
		{"scalar+array", Scalar(1), Array(1, 2), Array(2, 3)},
		{"array+array", Array(1, 2), Array(3, 4), Array(4, 6)},
		{"ragged arrays pad with zero", Array(1, 2, 3), Array(1), Array(2, 2, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(tt.a.Add(tt.b)), "got %v", tt.a.Add(tt.b))
		})
	}
}

func TestValue_ArrayIsCopied(t *testing.T) {
	// GIVEN an array value built from a caller-owned slice
	src := []float64{1, 2, 3}
	v := Array(src...)

	// WHEN the caller mutates both the source and a Floats() result
	src[0] = 99
	out := v.Floats()
	out[1] = 99

	// THEN the value is unchanged
	assert.Equal(t, []float64{1, 2, 3}, v.Floats())
}

func TestValue_ShapeMatters(t *testing.T) {
	assert.False(t, Scalar(1).Equal(Array(1)))
	assert.Equal(t, 1, Scalar(4).Len())
	assert.Equal(t, 3, Array(0, 0, 0).Len())
	assert.Equal(t, "[1 0.5 2]", Array(1, 0.5, 2).String())
	assert.Equal(t, "2.5", Scalar(2.5).String())
}

func TestValue_Bools(t *testing.T) {
	v := Bools([]bool{true, false, true})
	assert.True(t, Array(1, 0, 1).Equal(v))
	assert.True(t, Scalar(-1).Truth())
	assert.False(t, Scalar(0).Truth())
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"ai", KindAI},
		{"AO", KindAO},
		{"wfm", KindWaveformIn},
		{"wfmo", KindWaveformOut},
		{"mbbi", KindMBBI},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
	_, err := ParseKind("longin")
	assert.Error(t, err)
}

func TestParseScan(t *testing.T) {
	tests := []struct {
		in   string
		want ScanPolicy
	}{
		{"I/O Intr", OnChange},
		{"", OnChange},
		{"Passive", Passive},
		{"1 second", Periodic(time.Second)},
		{".5 second", Periodic(500 * time.Millisecond)},
		{"10 seconds", Periodic(10 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScan(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	for _, bad := range []string{"Event", "0 second", "fast"} {
		_, err := ParseScan(bad)
		assert.Error(t, err, bad)
	}
}
