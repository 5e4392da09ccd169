package reading

import (
	"math"
	"testing"
)

func TestValidator_Valid(t *testing.T) {
	v := NewValidator()
	nan := math.NaN()

	tests := []struct {
		name   string
		sample Sample
		want   bool
	}{
		{name: "all zero", sample: Sample{}, want: true},
		{name: "gas at lower bound", sample: Sample{VOC: 0, NOx: 0}, want: true},
		{name: "gas at upper bound", sample: Sample{VOC: 500, NOx: 500}, want: true},
		{name: "typical indoor", sample: Sample{PM1: 3.2, PM25: 5.1, PM4: 6, PM10: 6.4, Humidity: 41.5, Temperature: 22.3, VOC: 100, NOx: 1}, want: true},
		{name: "negative temperature not range checked", sample: Sample{Temperature: -40}, want: true},
		{name: "huge pm not range checked", sample: Sample{PM10: 5000}, want: true},
		{name: "voc below range", sample: Sample{VOC: -0.1}, want: false},
		{name: "voc above range", sample: Sample{VOC: 500.1}, want: false},
		{name: "nox below range", sample: Sample{NOx: -1}, want: false},
		{name: "nox above range", sample: Sample{NOx: 501}, want: false},
		{name: "nan pm1", sample: Sample{PM1: nan}, want: false},
		{name: "nan pm25", sample: Sample{PM25: nan}, want: false},
		{name: "nan pm4", sample: Sample{PM4: nan}, want: false},
		{name: "nan pm10", sample: Sample{PM10: nan}, want: false},
		{name: "nan humidity", sample: Sample{Humidity: nan}, want: false},
		{name: "nan temperature", sample: Sample{Temperature: nan}, want: false},
		{name: "nan voc", sample: Sample{VOC: nan}, want: false},
		{name: "nan nox", sample: Sample{NOx: nan}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Valid(tt.sample); got != tt.want {
				t.Errorf("Valid(%+v) = %v; want %v", tt.sample, got, tt.want)
			}
		})
	}
}

func TestValidator_CustomBounds(t *testing.T) {
	v := Validator{GasIndexMin: 1, GasIndexMax: 100}
	if v.Valid(Sample{VOC: 0, NOx: 50}) {
		t.Error("VOC 0 should be rejected with min 1")
	}
	if !v.Valid(Sample{VOC: 1, NOx: 100}) {
		t.Error("bounds should be inclusive")
	}
}

func TestSample_ValuesRoundTrip(t *testing.T) {
	s := Sample{PM1: 1, PM25: 2, PM4: 3, PM10: 4, Humidity: 5, Temperature: 6, VOC: 7, NOx: 8}
	if got := FromValues(s.Values()); got != s {
		t.Errorf("FromValues(Values()) = %+v; want %+v", got, s)
	}
}

func TestQualityOf(t *testing.T) {
	tests := []struct {
		pm25 float64
		want Quality
	}{
		{0, QualityGood},
		{14.9, QualityGood},
		{15, QualityModerate},
		{34.9, QualityModerate},
		{35, QualityUnhealthySensitive},
		{54.9, QualityUnhealthySensitive},
		{55, QualityUnhealthy},
		{300, QualityUnhealthy},
	}
	for _, tt := range tests {
		if got := QualityOf(tt.pm25); got != tt.want {
			t.Errorf("QualityOf(%v) = %q; want %q", tt.pm25, got, tt.want)
		}
	}
}
