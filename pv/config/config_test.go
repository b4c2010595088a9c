package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiamondLightSource/virtac/pv/record"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want record.Value
	}{
		{"1.5", record.Scalar(1.5)},
		{" -2 ", record.Scalar(-2)},
		{"[1 0 1]", record.Array(1, 0, 1)},
		{"[ 0.5   2 ]", record.Array(0.5, 2)},
		{"[]", record.Array()},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseValue("ai", tt.raw)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestParseValue_Invalid(t *testing.T) {
	for _, raw := range []string{"", "abc", "[1 x 3]", "[1 2"} {
		_, err := ParseValue("wfm", raw)
		var invalid *InvalidValueError
		require.True(t, errors.As(err, &invalid), raw)
		assert.Equal(t, raw, invalid.Raw)
		assert.Equal(t, "wfm", invalid.Kind)
	}
}

func TestSplitNames(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, SplitNames("A, B,C"))
	assert.Equal(t, []string{"A", "B"}, SplitNames("A B"))
	assert.Empty(t, SplitNames(" "))
}

func TestReadLimits(t *testing.T) {
	// GIVEN a limits table with columns in a different order than usual
	in := "scan,pv,upper,lower,precision,drive_high,drive_low\n" +
		"Passive,SR01A-PC-Q1:SETI,200,0,3,190,10\n" +
		",SR01A-PC-Q1:I,200,0,3,,\n"

	// WHEN it is read
	limits, err := ReadLimits(strings.NewReader(in))
	require.NoError(t, err)

	// THEN values are located by header name
	require.Len(t, limits, 2)
	sp := limits["SR01A-PC-Q1:SETI"]
	assert.Equal(t, record.Bounds{Upper: 200, Precision: 3, DriveHigh: 190, DriveLow: 10}, sp.Bounds)
	assert.True(t, sp.HasScan)
	assert.Equal(t, record.Passive, sp.Scan)
	rb := limits["SR01A-PC-Q1:I"]
	assert.False(t, rb.HasScan)
	assert.False(t, rb.Bounds.HasDrive())
}

func TestReadLimits_MissingColumn(t *testing.T) {
	_, err := ReadLimits(strings.NewReader("pv,upper\nX,1\n"))
	assert.ErrorContains(t, err, "lower")
}

func TestReadRecords(t *testing.T) {
	in := "index,field,pv,value,record_type\n" +
		"0,,SR-DI-EMIT-01:HER,0,ai\n" +
		"3,x_fofb_disabled,SR01C-DI-EBPM-01:CF:ENABLED_S,1,ai\n" +
		"0,,SR-DI-EBPM:X,[0 0 0],wfm\n"

	rows, err := ReadRecords(strings.NewReader(in), Strict)

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 3, rows[1].Index)
	assert.Equal(t, "x_fofb_disabled", rows[1].Field)
	assert.Equal(t, record.KindAI, rows[1].Kind)
	assert.Equal(t, record.KindWaveformIn, rows[2].Kind)
	assert.Equal(t, 3, rows[2].Value.Len())
}

func TestReadRecords_InvalidValue(t *testing.T) {
	// GIVEN a table whose second data row has a malformed value
	in := "index,field,pv,value,record_type\n" +
		"0,,A,1,ai\n" +
		"0,,B,one,ai\n" +
		"0,,C,2,ai\n"

	// WHEN read strictly THEN the whole table fails, naming the line
	_, err := ReadRecords(strings.NewReader(in), Strict)
	var invalid *InvalidValueError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, 3, invalid.Line)
	assert.Equal(t, "one", invalid.Raw)

	// WHEN read with SkipInvalid THEN only the bad row is dropped
	rows, err := ReadRecords(strings.NewReader(in), SkipInvalid)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "C", rows[1].PV)
}

func TestReadRecords_UnknownKind(t *testing.T) {
	_, err := ReadRecords(strings.NewReader("index,field,pv,value,record_type\n0,,A,1,longin\n"), SkipInvalid)
	assert.Error(t, err, "unknown kinds are never skipped")
}

func TestReadMirrors(t *testing.T) {
	in := "output_type,mirror_type,in_pv,out_pv,value,scan\n" +
		"ai,basic,SR-DI-DCCT-01:SIGNAL,SR-DI-DCCT-01:SIGNAL_MIRROR,0,I/O Intr\n" +
		"wfm,collate,\"BPM1:X, BPM2:X\",SR-DI-EBPM:X,[0 0],.2 second\n" +
		"ai,summate,\"A, B\",A_PLUS_B,0,\n"

	rows, err := ReadMirrors(strings.NewReader(in), Strict)

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"BPM1:X", "BPM2:X"}, rows[1].Inputs)
	assert.Equal(t, "collate", rows[1].MirrorType)
	assert.Equal(t, record.Periodic(200*time.Millisecond), rows[1].Scan)
	assert.Equal(t, record.OnChange, rows[2].Scan)
	assert.Equal(t, "A_PLUS_B", rows[2].Output)
}

func TestReadOffsets(t *testing.T) {
	in := "set_pv,offset_pv,delta_pv\n" +
		"SR-CS-TFB-01:Q1D:SETI,SR-CS-TFB-01:Q1D:OFFSET,SR-CS-TFB-01:Q1D:DELTA\n"

	rows, err := ReadOffsets(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, OffsetRow{
		Setpoint: "SR-CS-TFB-01:Q1D:SETI",
		Offset:   "SR-CS-TFB-01:Q1D:OFFSET",
		Delta:    "SR-CS-TFB-01:Q1D:DELTA",
	}, rows[0])

	_, err = ReadOffsets(strings.NewReader("set_pv,offset_pv,delta_pv\nA,,C\n"))
	assert.Error(t, err)
}

func TestLoadLimits_MissingFile(t *testing.T) {
	_, err := LoadLimits(filepath.Join(t.TempDir(), "limits.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRecords_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bba.csv")
	require.NoError(t, os.WriteFile(path, []byte("index,field,pv,value,record_type\n1,a1,X,0,ai\n"), 0o644))

	rows, err := LoadRecords(path, Strict)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "X", rows[0].PV)
}
