package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiamondLightSource/virtac/pv"
	"github.com/DiamondLightSource/virtac/pv/record"
)

func TestCheckSimParams(t *testing.T) {
	tests := []struct {
		name             string
		linopt           string
		disableRadiation bool
		disableEmittance bool
		wantErr          bool
	}{
		{"default linopt6 with radiation", "linopt6", false, false, false},
		{"linopt6 without radiation", "linopt6", true, true, true},
		{"linopt4 without radiation or emittance", "linopt4", true, true, false},
		{"linopt2 with radiation", "linopt2", false, false, true},
		{"no radiation but emittance requested", "linopt4", true, false, true},
		{"unknown function", "linopt3", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkSimParams(tt.linopt, tt.disableRadiation, tt.disableEmittance)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveRingMode_Precedence(t *testing.T) {
	cfg := Config{RingMode: "DEMO"}

	// GIVEN $RINGMODE is set
	t.Setenv("RINGMODE", "I04")

	// THEN an explicit argument wins, then the environment
	assert.Equal(t, "48", resolveRingMode([]string{"48"}, cfg))
	assert.Equal(t, "I04", resolveRingMode(nil, cfg))

	// AND the defaults file is the last resort
	t.Setenv("RINGMODE", "")
	assert.Equal(t, "DEMO", resolveRingMode(nil, cfg))
}

// useDemoData points the data flags at the repository's DEMO ring mode.
func useDemoData(t *testing.T) Config {
	t.Helper()
	cfg, err := loadDefaultsConfig("../defaults.yaml")
	if err != nil {
		t.Skipf("defaults.yaml not usable, skipping integration test: %v", err)
	}
	oldDir, oldLinopt := dataDir, linoptFunction
	dataDir, linoptFunction = "../data", "linopt6"
	t.Cleanup(func() { dataDir, linoptFunction = oldDir, oldLinopt })
	return cfg
}

func TestBuildVirtac_DemoRingMode(t *testing.T) {
	// GIVEN the DEMO ring mode shipped with the repository
	cfg := useDemoData(t)

	// WHEN the graph is built
	v, lat, err := buildVirtac(runCmd, cfg, "DEMO")
	require.NoError(t, err)
	require.NotNil(t, lat)

	// THEN every table contributed nodes and monitoring is live
	s := v.Stats()
	assert.Equal(t, 25, s.Total)
	assert.Equal(t, 8, s.Pulled)
	assert.Equal(t, 1, s.CollateNodes)
	assert.Equal(t, 4, s.ByVariant[pv.VariantSubscription])
	assert.Equal(t, 1, s.ByVariant[pv.VariantOffsetChain])
	assert.Equal(t, 1, s.ByVariant[pv.VariantBase])
	assert.True(t, s.Monitoring)
	assert.Equal(t, 200*time.Millisecond, v.Drainer().Interval())
}

func TestBuildVirtac_DemoTuneFeedbackOffset(t *testing.T) {
	// GIVEN the DEMO graph, whose quadrupole setpoint carries a tune feedback offset
	cfg := useDemoData(t)
	v, lat, err := buildVirtac(runCmd, cfg, "DEMO")
	require.NoError(t, err)

	// WHEN the tune feedback delta is written
	require.NoError(t, v.Records().Put("SR-CS-TFB-01:Q1D:DELTA", record.Scalar(2.5)))

	// THEN the simulator sees setpoint plus offset while the setpoint record is unchanged
	quad := lat.Elements()[2]
	got, err := quad.Value("b1")
	require.NoError(t, err)
	assert.InDelta(t, 73.0, got.Float(), 1e-9)
	seti, ok := v.Records().Lookup("SR01A-PC-Q1D-01:SETI")
	require.True(t, ok)
	assert.InDelta(t, 70.5, seti.Get().Float(), 1e-9)
	assert.Equal(t, pv.VariantOffsetChain, mustNode(t, v.Node, "SR01A-PC-Q1D-01:OFFSET").Variant())
}

func TestBuildVirtac_MissingRingMode(t *testing.T) {
	cfg := useDemoData(t)
	_, _, err := buildVirtac(runCmd, cfg, "NO-SUCH-MODE")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "virtac dev\n", out.String())
}

func mustNode(t *testing.T, lookup func(string) (pv.Node, bool), name string) pv.Node {
	t.Helper()
	n, ok := lookup(name)
	require.True(t, ok, name)
	return n
}
