package reading

// Default gas index bounds reported by the SEN55 VOC and NOx algorithms.
const (
	DefaultGasIndexMin = 0.0
	DefaultGasIndexMax = 500.0
)

// Validator rejects samples that must not reach the accumulator or history.
type Validator struct {
	GasIndexMin float64
	GasIndexMax float64
}

// NewValidator returns a Validator using the default gas index bounds.
func NewValidator() Validator {
	return Validator{GasIndexMin: DefaultGasIndexMin, GasIndexMax: DefaultGasIndexMax}
}

// Valid reports whether s has no NaN channel and both gas indices lie within
// [GasIndexMin, GasIndexMax]. No other channel is range checked.
func (v Validator) Valid(s Sample) bool {
	if s.HasNaN() {
		return false
	}
	if s.VOC < v.GasIndexMin || s.VOC > v.GasIndexMax {
		return false
	}
	if s.NOx < v.GasIndexMin || s.NOx > v.GasIndexMax {
		return false
	}
	return true
}
