package client

import (
	"context"
	"fmt"
	"time"
)

// Position is one device reading.
type Position struct {
	Latitude  float64
	Longitude float64
	// Accuracy in metres, zero when unknown.
	Accuracy  float64
	Timestamp time.Time
}

// WatchOptions mirror the browser geolocation watch options.
type WatchOptions struct {
	HighAccuracy bool
	// Timeout is how long to wait for a reading before reporting
	// SensorTimeout.
	Timeout time.Duration
	// MaximumAge is how old a reading may be relative to the start of the
	// watch. Zero accepts only readings taken after the watch started.
	MaximumAge time.Duration
}

func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		HighAccuracy: true,
		Timeout:      5 * time.Second,
		MaximumAge:   0,
	}
}

// Sensor pushes position readings until ctx is done, then closes the
// channel.
type Sensor interface {
	Watch(ctx context.Context, opts WatchOptions) (<-chan Position, error)
}

type SensorErrorCode int

const (
	PermissionDenied SensorErrorCode = iota + 1
	PositionUnavailable
	SensorTimeout
)

func (c SensorErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission denied"
	case PositionUnavailable:
		return "position unavailable"
	case SensorTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("sensor error %d", int(c))
	}
}

// SensorError reports a sensor that could not deliver a position.
type SensorError struct {
	Code SensorErrorCode
	Err  error
}

func (e *SensorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sensor: %s: %v", e.Code, e.Err)
	}
	return "sensor: " + e.Code.String()
}

func (e *SensorError) Unwrap() error { return e.Err }

// ChanSensor adapts a channel of readings, e.g. a GPS daemon reader or a
// replayed track, to Sensor. It supports a single watch.
type ChanSensor chan Position

func (s ChanSensor) Watch(ctx context.Context, _ WatchOptions) (<-chan Position, error) {
	out := make(chan Position)
	go func() {
		defer close(out)
		for {
			select {
			case pos, ok := <-s:
				if !ok {
					return
				}
				select {
				case out <- pos:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// watch filters readings by age and reports gaps longer than opts.Timeout.
// It calls onPosition for every accepted reading and onError for every
// timeout, until readings is closed or ctx is done.
func watch(ctx context.Context, readings <-chan Position, opts WatchOptions, now func() time.Time, onPosition func(Position), onError func(error)) {
	oldest := now().Add(-opts.MaximumAge)

	var timeout <-chan time.Time
	var timer *time.Timer
	if opts.Timeout > 0 {
		timer = time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case pos, ok := <-readings:
			if !ok {
				return
			}
			if !pos.Timestamp.IsZero() && pos.Timestamp.Before(oldest) {
				continue
			}
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(opts.Timeout)
			}
			onPosition(pos)
		case <-timeout:
			onError(&SensorError{Code: SensorTimeout})
			timer.Reset(opts.Timeout)
		}
	}
}
