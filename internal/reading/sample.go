// Package reading defines the eight-channel air-quality sample and the
// predicates applied to it before it enters the pipeline.
package reading

import "math"

// Sample is one SEN55 measurement. Particulate channels are µg/m³, humidity is
// %RH, temperature is °C, VOC and NOx are Sensirion gas indices.
type Sample struct {
	PM1         float64 `json:"pm1"`
	PM25        float64 `json:"pm25"`
	PM4         float64 `json:"pm4"`
	PM10        float64 `json:"pm10"`
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature"`
	VOC         float64 `json:"voc"`
	NOx         float64 `json:"nox"`
}

// Channels is the number of scalar measurements in a Sample.
const Channels = 8

// Values returns the channels in a fixed order: pm1, pm25, pm4, pm10,
// humidity, temperature, voc, nox.
func (s Sample) Values() [Channels]float64 {
	return [Channels]float64{s.PM1, s.PM25, s.PM4, s.PM10, s.Humidity, s.Temperature, s.VOC, s.NOx}
}

// FromValues is the inverse of Values.
func FromValues(v [Channels]float64) Sample {
	return Sample{
		PM1:         v[0],
		PM25:        v[1],
		PM4:         v[2],
		PM10:        v[3],
		Humidity:    v[4],
		Temperature: v[5],
		VOC:         v[6],
		NOx:         v[7],
	}
}

// HasNaN reports whether any channel is not-a-number.
func (s Sample) HasNaN() bool {
	for _, v := range s.Values() {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
