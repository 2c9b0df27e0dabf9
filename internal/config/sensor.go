package config

import (
	"fmt"
	"math"
)

// SensorConfig enumerates the recognised ray-cast LiDAR settings.
// Zero RotationFrequency means "one revolution per tick" and is resolved
// against the simulation FPS by RotationHz.
type SensorConfig struct {
	Channels          int     `json:"channels" env:"LIDARFUSION_SENSOR_CHANNELS"`
	RangeMeters       float64 `json:"range" env:"LIDARFUSION_SENSOR_RANGE"`
	RotationFrequency float64 `json:"rotation_frequency" env:"LIDARFUSION_SENSOR_ROTATION_HZ"`
	PointsPerTick     int     `json:"points_per_tick" env:"LIDARFUSION_SENSOR_POINTS_PER_TICK"`
	LowerFOV          float64 `json:"lower_fov" env:"LIDARFUSION_SENSOR_LOWER_FOV"`
	UpperFOV          float64 `json:"upper_fov" env:"LIDARFUSION_SENSOR_UPPER_FOV"`
}

// DefaultSensorConfig matches the 64-channel, 100 m profile the datasets
// were generated with.
func DefaultSensorConfig() SensorConfig {
	return SensorConfig{
		Channels:      64,
		RangeMeters:   100,
		PointsPerTick: 50000,
		LowerFOV:      -25,
		UpperFOV:      10,
	}
}

// Validate checks each field against its supported range.
func (s SensorConfig) Validate() error {
	if s.Channels < 1 || s.Channels > 128 {
		return fmt.Errorf("channels must be in [1, 128], got %d", s.Channels)
	}
	if s.RangeMeters <= 0 || s.RangeMeters > 1000 {
		return fmt.Errorf("range must be in (0, 1000] m, got %f", s.RangeMeters)
	}
	if s.RotationFrequency < 0 {
		return fmt.Errorf("rotation_frequency must be non-negative, got %f", s.RotationFrequency)
	}
	if s.PointsPerTick < 1 {
		return fmt.Errorf("points_per_tick must be positive, got %d", s.PointsPerTick)
	}
	if s.LowerFOV < -90 || s.LowerFOV > 0 {
		return fmt.Errorf("lower_fov must be in [-90, 0] degrees, got %f", s.LowerFOV)
	}
	if s.UpperFOV < s.LowerFOV || s.UpperFOV > 90 {
		return fmt.Errorf("upper_fov must be in [lower_fov, 90] degrees, got %f", s.UpperFOV)
	}
	return nil
}

// RotationHz returns the configured rotation frequency, or fps when unset so
// that the sensor completes one sweep per tick.
func (s SensorConfig) RotationHz(fps float64) float64 {
	if s.RotationFrequency > 0 {
		return s.RotationFrequency
	}
	return fps
}

// PointsPerSecond is the sensor emission rate needed to produce
// PointsPerTick points every tick at the given fps.
func (s SensorConfig) PointsPerSecond(fps float64) int {
	return int(math.Round(float64(s.PointsPerTick) * fps))
}

// MountHeight returns the sensor height above the vehicle origin: the roof
// height plus the rise needed so the lower field of view clears the roof.
// halfX, halfY, halfZ are the vehicle's half extents.
func (s SensorConfig) MountHeight(halfX, halfY, halfZ float64) float64 {
	clearance := math.Max(halfX, halfY) * math.Tan(-s.LowerFOV*math.Pi/180)
	return 2*halfZ + clearance
}
