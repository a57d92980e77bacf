package eodata

import (
	"fmt"
	"strings"
)

// Sensor identifies the mission a product comes from.
type Sensor string

// Supported sensors.
const (
	Sentinel1 Sensor = "Sentinel-1"
	Sentinel2 Sensor = "Sentinel-2"
	Sentinel3 Sensor = "Sentinel-3"
	Landsat8  Sensor = "Landsat-8"
)

// ParseSensor returns the sensor matching s, accepting short forms such as "S2" or "L8".
func ParseSensor(s string) (Sensor, error) {
	switch strings.ToUpper(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)) {
	case "S1", "SENTINEL1":
		return Sentinel1, nil
	case "S2", "SENTINEL2":
		return Sentinel2, nil
	case "S3", "SENTINEL3":
		return Sentinel3, nil
	case "L8", "LANDSAT8":
		return Landsat8, nil
	default:
		return "", fmt.Errorf("unknown sensor %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Sensor) UnmarshalText(text []byte) error {
	v, err := ParseSensor(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
