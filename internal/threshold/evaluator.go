// Package threshold classifies measurements against a session's alert thresholds.
package threshold

import (
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
)

// IsCritical reports whether value crosses the threshold configured for dataType.
//
// Evaluation is skip-safe: a nil config, a data type without a configured
// threshold, an unknown data type or a value whose shape does not match the
// threshold variant is never critical.
func IsCritical(dataType string, value model.MeasurementValue, thresholds model.ThresholdConfig) bool {
	if len(thresholds) == 0 || value == nil {
		return false
	}
	t, ok := thresholds[dataType]
	if !ok {
		return false
	}

	switch dataType {
	case model.DataTypeHeartRate, model.DataTypeTemperature:
		r, ok := t.(model.RangeThreshold)
		if !ok {
			return false
		}
		v, ok := value.(model.ScalarValue)
		if !ok {
			return false
		}
		return below(float64(v), r.Min) || above(float64(v), r.Max)

	case model.DataTypeBloodPressure:
		bp, ok := t.(model.BloodPressureThreshold)
		if !ok {
			return false
		}
		v, ok := value.(model.BloodPressureValue)
		if !ok {
			return false
		}
		return above(v.Systolic, bp.SystolicMax) ||
			above(v.Diastolic, bp.DiastolicMax) ||
			below(v.Systolic, bp.SystolicMin) ||
			below(v.Diastolic, bp.DiastolicMin)

	case model.DataTypeOxygenSaturation:
		// Saturation has a floor only.
		f, ok := t.(model.FloorThreshold)
		if !ok {
			return false
		}
		v, ok := value.(model.ScalarValue)
		if !ok {
			return false
		}
		return below(float64(v), f.Min)
	}

	return false
}

func below(v float64, min *float64) bool {
	return min != nil && v < *min
}

func above(v float64, max *float64) bool {
	return max != nil && v > *max
}

// Defaults returns a conservative adult threshold preset, applied to sessions
// created without an explicit configuration when enabled.
func Defaults() model.ThresholdConfig {
	return model.ThresholdConfig{
		model.DataTypeHeartRate: model.RangeThreshold{Min: model.Bound(50), Max: model.Bound(120)},
		model.DataTypeBloodPressure: model.BloodPressureThreshold{
			SystolicMin:  model.Bound(90),
			SystolicMax:  model.Bound(160),
			DiastolicMin: model.Bound(60),
			DiastolicMax: model.Bound(100),
		},
		model.DataTypeTemperature:      model.RangeThreshold{Min: model.Bound(35), Max: model.Bound(38.5)},
		model.DataTypeOxygenSaturation: model.FloorThreshold{Min: model.Bound(92)},
	}
}
