package sunlightmeter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/luxmeter/internal/upload"
	"github.com/ztkent/luxmeter/tsl2591"
)

// instantClock lets the sensor's settle delay pass without blocking.
type instantClock struct {
	*clock.Mock
}

func (c instantClock) Sleep(d time.Duration) {
	c.Mock.Add(d)
}

type fixture struct {
	meter *SLMeter
	conn  *tsl2591.FakeConn
	tsl   *tsl2591.TSL2591
	sink  *upload.FakeSink
	hook  *test.Hook
}

func newFixture(t *testing.T, store Store, opts Options) *fixture {
	t.Helper()
	conn := tsl2591.NewFakeConn()
	tsl, err := tsl2591.NewTSL2591(conn, tsl2591.WithClock(instantClock{clock.NewMock()}))
	require.NoError(t, err)

	l, hook := test.NewNullLogger()
	sink := upload.NewFakeSink()
	m := New(tsl, sink, store, opts, l)
	m.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = m.StopJob() })
	return &fixture{meter: m, conn: conn, tsl: tsl, sink: sink, hook: hook}
}

func TestReadOnce(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.conn.SetChannels(1000, 500)
	f.conn.ResetWrites()

	reading, err := f.meter.ReadOnce(context.Background(), tsl2591.GainLow, tsl2591.IntegrationTime600MS)
	require.NoError(t, err)

	// Sensor opens at low gain and 600ms, so nothing needs writing.
	assert.Empty(t, f.conn.Writes())
	assert.Equal(t, "Lux", reading.Field)
	assert.InDelta(t, 122.4, reading.Lux, 0.01)
	assert.Equal(t, "Low gain (1x)", reading.Gain)
	assert.Equal(t, "600ms", reading.Integration)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), reading.CreatedAt)
	assert.InDelta(t, 500.0/0xFFFF, reading.Visible, 1e-9)
	assert.Equal(t, []upload.Reading{reading}, f.sink.Readings())
}

func TestReadOnceConfiguresSensor(t *testing.T) {
	f := newFixture(t, nil, Options{Field: "Illuminance"})
	f.conn.SetChannels(4280, 0)
	f.conn.ResetWrites()

	reading, err := f.meter.ReadOnce(context.Background(), tsl2591.GainHigh, tsl2591.IntegrationTime100MS)
	require.NoError(t, err)

	writes := f.conn.Writes()
	require.Len(t, writes, 2)
	// Integration first, then gain
	assert.Equal(t, []byte{0x00}, writes[0].Data)
	assert.Equal(t, []byte{0x20}, writes[1].Data)

	assert.Equal(t, "Illuminance", reading.Field)
	// cpl = 100 * 428 / 408
	assert.InDelta(t, 40.8, reading.Lux, 0.01)
}

func TestReadOnceRejectsMediumGain(t *testing.T) {
	f := newFixture(t, nil, Options{})
	_, err := f.meter.ReadOnce(context.Background(), tsl2591.GainMedium, tsl2591.IntegrationTime100MS)
	assert.ErrorIs(t, err, tsl2591.ErrInvalidArgument)
	assert.Empty(t, f.sink.Readings())
}

func TestConfigureRejectsWithoutWriting(t *testing.T) {
	tests := []struct {
		name   string
		gain   tsl2591.Gain
		timing tsl2591.IntegrationTime
	}{
		{name: "medium gain", gain: tsl2591.GainMedium, timing: tsl2591.IntegrationTime100MS},
		{name: "max gain", gain: tsl2591.GainMax, timing: tsl2591.IntegrationTime300MS},
		{name: "bad integration", gain: tsl2591.GainHigh, timing: tsl2591.IntegrationTime(0x06)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, Options{})
			f.conn.ResetWrites()

			_, err := f.meter.ReadOnce(context.Background(), tt.gain, tt.timing)
			assert.ErrorIs(t, err, tsl2591.ErrInvalidArgument)
			assert.Empty(t, f.conn.Writes())
			gain, timing := f.meter.Settings()
			assert.Equal(t, tsl2591.GainLow, gain)
			assert.Equal(t, tsl2591.IntegrationTime600MS, timing)
		})
	}
}

func TestMeasureOverflow(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.conn.SetChannels(0xFFFF, 100)

	_, err := f.meter.Measure(context.Background(), "")
	assert.ErrorIs(t, err, tsl2591.ErrOverflow)
	assert.Empty(t, f.sink.Readings())
}

func TestMeasureUploadError(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.sink.UploadError = errors.New("offline")

	_, err := f.meter.Measure(context.Background(), "job")
	assert.ErrorContains(t, err, "offline")
}

func TestMeasureClosedSensor(t *testing.T) {
	f := newFixture(t, nil, Options{})
	require.NoError(t, f.tsl.Close())

	_, err := f.meter.Measure(context.Background(), "")
	assert.ErrorIs(t, err, tsl2591.ErrNotConnected)
}

func TestReduceSensitivity(t *testing.T) {
	f := newFixture(t, nil, Options{})
	require.NoError(t, f.meter.Configure(tsl2591.GainHigh, tsl2591.IntegrationTime200MS))

	steps := []struct {
		gain   tsl2591.Gain
		timing tsl2591.IntegrationTime
	}{
		{tsl2591.GainLow, tsl2591.IntegrationTime200MS},
		{tsl2591.GainLow, tsl2591.IntegrationTime100MS},
	}
	for _, step := range steps {
		ok, err := f.meter.reduceSensitivity()
		require.NoError(t, err)
		assert.True(t, ok)
		gain, timing := f.meter.Settings()
		assert.Equal(t, step.gain, gain)
		assert.Equal(t, step.timing, timing)
	}

	ok, err := f.meter.reduceSensitivity()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordingJob(t *testing.T) {
	f := newFixture(t, nil, Options{Interval: 5 * time.Millisecond})
	f.conn.SetChannels(1000, 500)

	jobID, err := f.meter.StartJob()
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	_, err = f.meter.StartJob()
	assert.ErrorIs(t, err, ErrJobRunning)

	status := f.meter.Status()
	assert.True(t, status.Recording)
	assert.Equal(t, jobID, status.JobID)

	assert.Eventually(t, func() bool {
		return len(f.sink.Readings()) >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.meter.StopJob())
	assert.ErrorIs(t, f.meter.StopJob(), ErrNoJob)
	assert.False(t, f.meter.Status().Recording)

	for _, r := range f.sink.Readings() {
		assert.Equal(t, jobID, r.JobID)
	}
}

func TestRecordingJobBacksOffOnOverflow(t *testing.T) {
	f := newFixture(t, nil, Options{Interval: 5 * time.Millisecond})
	require.NoError(t, f.meter.Configure(tsl2591.GainHigh, tsl2591.IntegrationTime600MS))
	f.conn.SetChannels(0xFFFF, 0xFFFF)

	_, err := f.meter.StartJob()
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		gain, _ := f.meter.Settings()
		return gain == tsl2591.GainLow
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, f.meter.StopJob())
	assert.Empty(t, f.sink.Readings())
}

func TestRecordingJobMaxDuration(t *testing.T) {
	f := newFixture(t, nil, Options{Interval: time.Hour, MaxDuration: 20 * time.Millisecond})

	_, err := f.meter.StartJob()
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return !f.meter.Status().Recording
	}, time.Second, 5*time.Millisecond)
}

func TestStartJobNotConnected(t *testing.T) {
	f := newFixture(t, nil, Options{})
	require.NoError(t, f.tsl.Close())

	_, err := f.meter.StartJob()
	assert.ErrorIs(t, err, tsl2591.ErrNotConnected)
}

func TestStartJobDuringClose(t *testing.T) {
	f := newFixture(t, nil, Options{Interval: time.Hour})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.meter.Close()
	}()
	_, err := f.meter.StartJob()
	<-done

	if err != nil {
		assert.ErrorIs(t, err, tsl2591.ErrNotConnected)
	}
	assert.False(t, f.meter.Status().Recording)
	assert.False(t, f.tsl.Connected())

	_, err = f.meter.StartJob()
	assert.ErrorIs(t, err, tsl2591.ErrNotConnected)
}

func TestClose(t *testing.T) {
	f := newFixture(t, nil, Options{Interval: time.Hour})
	_, err := f.meter.StartJob()
	require.NoError(t, err)

	require.NoError(t, f.meter.Close())
	assert.False(t, f.tsl.Connected())
	assert.True(t, f.sink.Closed)
	assert.Equal(t, 1, f.conn.CloseCount())
	assert.False(t, f.meter.Status().Recording)
}
