package reading

// Quality is the PM2.5 air-quality category shown to live observers.
type Quality string

const (
	QualityGood               Quality = "GOOD"
	QualityModerate           Quality = "MODERATE"
	QualityUnhealthySensitive Quality = "UNHEALTHY_SENSITIVE"
	QualityUnhealthy          Quality = "UNHEALTHY"
)

// QualityOf classifies a PM2.5 concentration in µg/m³.
func QualityOf(pm25 float64) Quality {
	switch {
	case pm25 < 15:
		return QualityGood
	case pm25 < 35:
		return QualityModerate
	case pm25 < 55:
		return QualityUnhealthySensitive
	default:
		return QualityUnhealthy
	}
}
