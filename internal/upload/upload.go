// Package upload stores and publishes lux readings.
package upload

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoReadings is returned when a query finds nothing.
var ErrNoReadings = errors.New("no readings recorded")

// Reading is one lux value, keyed by Field when it is published.
type Reading struct {
	ID           string    `json:"id"`
	JobID        string    `json:"jobID,omitempty"`
	Field        string    `json:"field"`
	Lux          float64   `json:"lux"`
	FullSpectrum float64   `json:"fullSpectrum"`
	Visible      float64   `json:"visible"`
	Infrared     float64   `json:"infrared"`
	Gain         string    `json:"gain"`
	Integration  string    `json:"integration"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewReading returns a reading with a fresh id and the current UTC time.
func NewReading(field string, lux float64) Reading {
	return Reading{
		ID:        uuid.New().String(),
		Field:     field,
		Lux:       lux,
		CreatedAt: time.Now().UTC(),
	}
}

// Sink receives readings.
type Sink interface {
	Upload(ctx context.Context, r Reading) error
	Close() error
}

// Multi uploads every reading to all sinks. Every sink is tried; the
// failures are joined.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Upload(ctx context.Context, r Reading) error {
	var errs []error
	for _, s := range m {
		if err := s.Upload(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
