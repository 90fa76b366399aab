package sunlightmeter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/luxmeter/internal/upload"
	"github.com/ztkent/luxmeter/tsl2591"
)

var (
	ErrJobRunning = errors.New("a recording job is already running")
	ErrNoJob      = errors.New("no recording job is running")
)

// Sensor is the part of *tsl2591.TSL2591 the meter drives.
type Sensor interface {
	SetGainAndIntegration(gain tsl2591.Gain, timing tsl2591.IntegrationTime) error
	SetGain(gain tsl2591.Gain) error
	SetIntegration(timing tsl2591.IntegrationTime) error
	Gain() tsl2591.Gain
	Integration() tsl2591.IntegrationTime
	FullLuminosity() (uint16, uint16, error)
	CalculateLux(ch0, ch1 uint16) float64
	Connected() bool
	Close() error
}

// Store answers queries about uploaded readings.
type Store interface {
	Latest(ctx context.Context) (upload.Reading, error)
	Range(ctx context.Context, start, end time.Time) ([]upload.Reading, error)
}

type Options struct {
	// Field the lux value is uploaded under
	Field       string
	Interval    time.Duration
	MaxDuration time.Duration
	LocalOnly   bool
	// Location used to read dates from the dashboard forms
	Location *time.Location
}

// SLMeter owns one sensor and uploads what it reads to a sink.
type SLMeter struct {
	sensor Sensor
	sink   upload.Sink
	store  Store
	opts   Options
	log    logrus.FieldLogger
	now    func() time.Time

	// Guards sensor, which is not safe for concurrent use
	mu sync.Mutex

	jobMu   sync.Mutex
	closed  bool
	jobID   string
	cancel  context.CancelFunc
	jobDone chan struct{}
}

// New returns a meter. store may be nil when no sink can be queried.
func New(sensor Sensor, sink upload.Sink, store Store, opts Options, l logrus.FieldLogger) *SLMeter {
	if opts.Field == "" {
		opts.Field = "Lux"
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 8 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &SLMeter{
		sensor: sensor,
		sink:   sink,
		store:  store,
		opts:   opts,
		log:    l,
		now:    time.Now,
	}
}

// Configure applies the integration time and then the gain.
func (m *SLMeter) Configure(gain tsl2591.Gain, timing tsl2591.IntegrationTime) error {
	// Reject bad settings before either write reaches the sensor
	if err := tsl2591.CheckSettings(gain, timing); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sensor.SetIntegration(timing); err != nil {
		return fmt.Errorf("set integration time %s: %w", timing, err)
	}
	if err := m.sensor.SetGain(gain); err != nil {
		return fmt.Errorf("set gain %s: %w", gain, err)
	}
	m.log.WithFields(logrus.Fields{
		"gain":        gain.String(),
		"integration": timing.String(),
	}).Debug("sensor configured")
	return nil
}

// Settings returns the sensor's current gain and integration time.
func (m *SLMeter) Settings() (tsl2591.Gain, tsl2591.IntegrationTime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sensor.Gain(), m.sensor.Integration()
}

// ReadOnce configures the sensor, takes one reading and uploads it.
func (m *SLMeter) ReadOnce(ctx context.Context, gain tsl2591.Gain, timing tsl2591.IntegrationTime) (upload.Reading, error) {
	if err := m.Configure(gain, timing); err != nil {
		return upload.Reading{}, err
	}
	return m.Measure(ctx, "")
}

// Measure reads the sensor with its current settings and uploads the
// result, tagged with jobID.
func (m *SLMeter) Measure(ctx context.Context, jobID string) (upload.Reading, error) {
	reading, err := m.read()
	if err != nil {
		return upload.Reading{}, err
	}
	reading.JobID = jobID

	if err := m.sink.Upload(ctx, reading); err != nil {
		return reading, fmt.Errorf("upload reading: %w", err)
	}
	m.log.WithFields(logrus.Fields{
		"job_id": jobID,
		"field":  reading.Field,
		"lux":    reading.Lux,
	}).Info("reading uploaded")
	return reading, nil
}

func (m *SLMeter) read() (upload.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch0, ch1, err := m.sensor.FullLuminosity()
	if err != nil {
		return upload.Reading{}, fmt.Errorf("read luminosity: %w", err)
	}
	if tsl2591.Saturated(ch0, ch1) {
		return upload.Reading{}, fmt.Errorf("channel 0: %d, channel 1: %d: %w", ch0, ch1, tsl2591.ErrOverflow)
	}

	reading := upload.NewReading(m.opts.Field, m.sensor.CalculateLux(ch0, ch1))
	reading.CreatedAt = m.now().UTC()
	reading.FullSpectrum = tsl2591.GetNormalizedOutput(tsl2591.TSL2591_FULLSPECTRUM, ch0, ch1)
	reading.Visible = tsl2591.GetNormalizedOutput(tsl2591.TSL2591_VISIBLE, ch0, ch1)
	reading.Infrared = tsl2591.GetNormalizedOutput(tsl2591.TSL2591_INFRARED, ch0, ch1)
	reading.Gain = m.sensor.Gain().String()
	reading.Integration = m.sensor.Integration().String()
	return reading, nil
}

// reduceSensitivity steps the sensor down after an overflow: high gain
// drops to low, then the integration time shortens. It reports false when
// the sensor is already at its least sensitive setting.
func (m *SLMeter) reduceSensitivity() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gain, timing := m.sensor.Gain(), m.sensor.Integration()
	switch {
	case gain == tsl2591.GainHigh:
		return true, m.sensor.SetGain(tsl2591.GainLow)
	case timing > tsl2591.IntegrationTime100MS:
		return true, m.sensor.SetIntegration(timing - 1)
	default:
		return false, nil
	}
}

// StartJob starts recording a reading every interval until StopJob is
// called or the maximum job duration passes. It returns the job id.
func (m *SLMeter) StartJob() (string, error) {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()

	m.mu.Lock()
	connected := m.sensor.Connected()
	m.mu.Unlock()
	if m.closed || !connected {
		return "", tsl2591.ErrNotConnected
	}
	if m.cancel != nil {
		return "", ErrJobRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.MaxDuration)
	jobID := uuid.New().String()
	done := make(chan struct{})
	m.jobID, m.cancel, m.jobDone = jobID, cancel, done

	go func() {
		defer close(done)
		defer m.finishJob(jobID)
		m.record(ctx, jobID)
	}()
	return jobID, nil
}

func (m *SLMeter) record(ctx context.Context, jobID string) {
	l := m.log.WithField("job_id", jobID)
	l.Info("It's going to be a bright day!")

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		_, err := m.Measure(ctx, jobID)
		if errors.Is(err, tsl2591.ErrOverflow) {
			l.WithError(err).Warn("sensor saturated, reducing sensitivity")
			if ok, err := m.reduceSensitivity(); err != nil {
				l.WithError(err).Error("failed to reduce sensitivity")
			} else if !ok {
				l.Warn("sensor is saturated at its least sensitive setting")
			}
		} else if err != nil {
			l.WithError(err).Error("failed to record reading")
		}

		select {
		case <-ctx.Done():
			l.Info("job finished, stopping sensor")
			return
		case <-ticker.C:
		}
	}
}

func (m *SLMeter) finishJob(jobID string) {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	if m.jobID == jobID {
		m.cancel()
		m.jobID, m.cancel, m.jobDone = "", nil, nil
	}
}

// StopJob cancels the running job and waits for it to finish.
func (m *SLMeter) StopJob() error {
	m.jobMu.Lock()
	cancel, done := m.cancel, m.jobDone
	m.jobMu.Unlock()

	if cancel == nil {
		return ErrNoJob
	}
	cancel()
	<-done
	return nil
}

// Status describes the sensor and the recording job.
type Status struct {
	Connected   bool   `json:"connected"`
	Recording   bool   `json:"recording"`
	JobID       string `json:"jobID,omitempty"`
	Gain        string `json:"gain"`
	Integration string `json:"integration"`
}

func (m *SLMeter) Status() Status {
	m.jobMu.Lock()
	jobID := m.jobID
	m.jobMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connected:   m.sensor.Connected(),
		Recording:   jobID != "",
		JobID:       jobID,
		Gain:        m.sensor.Gain().String(),
		Integration: m.sensor.Integration().String(),
	}
}

// Close stops any running job, then releases the sensor and the sink.
func (m *SLMeter) Close() error {
	m.jobMu.Lock()
	m.closed = true
	m.jobMu.Unlock()

	if err := m.StopJob(); err != nil && !errors.Is(err, ErrNoJob) {
		return err
	}

	m.mu.Lock()
	sensorErr := m.sensor.Close()
	m.mu.Unlock()

	return errors.Join(sensorErr, m.sink.Close())
}
