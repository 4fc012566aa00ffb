package transform

// The float64 conversions below force each product to be rounded on its
// own, so results do not depend on whether the platform fuses multiply-add.

// GasQuality scores biogas quality from methane and carbon dioxide percent.
func GasQuality(ch4, co2 float64) float64 {
	return float64(ch4*0.7) + float64((100-co2)*0.3)
}

// CompressorEfficiency is discharge pressure per motor amp. The +1 keeps a
// stopped motor from dividing by zero.
func CompressorEfficiency(dischargePressure, motorAmps float64) float64 {
	return dischargePressure / (motorAmps + 1)
}

// TempDifferential is the rise in gas temperature across the compressor.
func TempDifferential(dischargeTemp, suctionTemp float64) float64 {
	return dischargeTemp - suctionTemp
}

// PressureRatio is discharge over suction pressure, guarded against a zero
// suction reading.
func PressureRatio(dischargePressure, suctionPressure float64) float64 {
	return dischargePressure / (suctionPressure + 0.1)
}

// HealthScore combines a fault factor (100 minus 10 per active fault) and a
// motor current factor (100 minus 20 per 100 A) into a score in [0, 100].
// A nil input leaves its factor out. It reports false when both are nil.
func HealthScore(activeFaults *int, motorAmps *float64) (float64, bool) {
	var sum float64
	n := 0

	if activeFaults != nil {
		sum += 100 - float64(10*float64(*activeFaults))
		n++
	}
	if motorAmps != nil {
		sum += 100 - float64(20*float64(*motorAmps/100))
		n++
	}
	if n == 0 {
		return 0, false
	}

	return clip(sum/float64(n), 0, 100), true
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
