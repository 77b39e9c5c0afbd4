// Package units provides shared constants and conversions for speed units.
package units

// Unit constants
const (
	MPS   = "mps"
	MPH   = "mph"
	KMPH  = "kmph"
	KPH   = "kph"
	KNOTS = "knots"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH, KNOTS}

const (
	mpsToKMPH  = 3.6
	mpsToMPH   = 2.2369362920544
	knotsToMPS = 0.514444
)

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Position sources report speed in m/s; the tracker works in km/h.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * mpsToMPH
	case KMPH, KPH:
		return speedMPS * mpsToKMPH
	case KNOTS:
		return speedMPS / knotsToMPS
	default:
		return speedMPS
	}
}

// MPSToKMPH converts metres per second to kilometres per hour.
func MPSToKMPH(speedMPS float64) float64 {
	return speedMPS * mpsToKMPH
}

// KnotsToMPS converts a speed over ground in knots (as reported by NMEA
// receivers) to metres per second.
func KnotsToMPS(knots float64) float64 {
	return knots * knotsToMPS
}
