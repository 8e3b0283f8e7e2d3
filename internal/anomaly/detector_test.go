package anomaly_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/reading"
)

func TestDefaultThresholds(t *testing.T) {
	th := anomaly.DefaultThresholds()
	require.NoError(t, th.Validate())
	assert.Equal(t, 250.0, th[reading.PM25])
	assert.Equal(t, 420.0, th[reading.PM10])
	assert.Equal(t, 200.0, th[reading.NO2])
}

func TestThresholds_Validate(t *testing.T) {
	th := anomaly.DefaultThresholds()
	delete(th, reading.O3)
	assert.Error(t, th.Validate())

	th = anomaly.DefaultThresholds()
	th[reading.SO2] = 0
	assert.Error(t, th.Validate())
}

func TestDetect_StrictGreaterThan(t *testing.T) {
	d := anomaly.NewDetector(anomaly.DefaultThresholds())

	_, ok := d.Detect(reading.PM25, 250.0)
	assert.False(t, ok, "value equal to threshold must not trigger")

	_, ok = d.Detect(reading.PM25, 249.99)
	assert.False(t, ok)

	a, ok := d.Detect(reading.PM25, 250.01)
	require.True(t, ok)
	assert.Equal(t, reading.PM25, a.Parameter)
	assert.Equal(t, 250.0, a.Threshold)
	assert.True(t, strings.HasPrefix(a.ID, "anomaly_"))
	assert.Equal(t, "PM2.5 value 250.0 exceeds hazardous threshold (250.0)", a.Description)
}

func TestDetect_Monotonic(t *testing.T) {
	d := anomaly.NewDetector(anomaly.DefaultThresholds())
	for _, p := range reading.Parameters {
		th, _ := d.Threshold(p)
		values := []float64{0, th / 2, th, th + 0.001, th * 1.5, th * 10}
		triggered := false
		for _, v := range values {
			_, ok := d.Detect(p, v)
			if triggered {
				assert.True(t, ok, "%s: %g should trigger once a lower value did", p, v)
			}
			triggered = triggered || ok
		}
		assert.True(t, triggered, p)
	}
}

func TestDetect_UnknownParameter(t *testing.T) {
	d := anomaly.NewDetector(anomaly.DefaultThresholds())
	_, ok := d.Detect(reading.Parameter("co"), 1e9)
	assert.False(t, ok)
}

func TestDetectAll_SinglePollutant(t *testing.T) {
	d := anomaly.NewDetector(anomaly.DefaultThresholds(), anomaly.WithIDGenerator(func() string { return "anomaly_fixed" }))
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r := reading.Reading{Latitude: 41.0, Longitude: 28.9, Timestamp: ts, Pollutants: reading.Pollutants{PM25: reading.Float(260)}}

	got := d.DetectAll(r, "sxk91xu")
	require.Len(t, got, 1)
	assert.Equal(t, anomaly.Anomaly{
		ID:          "anomaly_fixed",
		Parameter:   reading.PM25,
		Value:       260,
		Threshold:   250,
		Latitude:    41.0,
		Longitude:   28.9,
		CellID:      "sxk91xu",
		Timestamp:   ts,
		Description: "PM2.5 value 260.0 exceeds hazardous threshold (250.0)",
	}, got[0])
}

func TestDetectAll_BelowThresholds(t *testing.T) {
	d := anomaly.NewDetector(anomaly.DefaultThresholds())
	r := reading.Reading{Latitude: 41.0, Longitude: 28.9, Pollutants: reading.Pollutants{PM25: reading.Float(35.5), PM10: reading.Float(60.2)}}
	assert.Empty(t, d.DetectAll(r, "sxk91xu"))
}

func TestDetectAll_MultiplePollutants(t *testing.T) {
	d := anomaly.NewDetector(anomaly.DefaultThresholds())
	r := reading.Reading{Pollutants: reading.Pollutants{
		PM25: reading.Float(300),
		NO2:  reading.Float(10),
		O3:   reading.Float(500),
	}}

	got := d.DetectAll(r, "s")
	require.Len(t, got, 2)
	assert.Equal(t, reading.PM25, got[0].Parameter)
	assert.Equal(t, reading.O3, got[1].Parameter)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestNewDetector_CopiesThresholds(t *testing.T) {
	th := anomaly.DefaultThresholds()
	d := anomaly.NewDetector(th)
	th[reading.PM25] = 1

	_, ok := d.Detect(reading.PM25, 100)
	assert.False(t, ok)
}
