package model

import (
	"encoding/json"
	"fmt"
)

// Threshold is the per-data-type bound shape. The concrete variants are
// RangeThreshold, BloodPressureThreshold and FloorThreshold.
type Threshold interface {
	threshold()
}

// RangeThreshold bounds a scalar from both sides. Nil bounds are not checked.
type RangeThreshold struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

func (RangeThreshold) threshold() {}

// BloodPressureThreshold bounds each blood pressure component
type BloodPressureThreshold struct {
	SystolicMin  *float64 `json:"systolic_min,omitempty"`
	SystolicMax  *float64 `json:"systolic_max,omitempty"`
	DiastolicMin *float64 `json:"diastolic_min,omitempty"`
	DiastolicMax *float64 `json:"diastolic_max,omitempty"`
}

func (BloodPressureThreshold) threshold() {}

// FloorThreshold only has a lower bound
type FloorThreshold struct {
	Min *float64 `json:"min,omitempty"`
}

func (FloorThreshold) threshold() {}

// ThresholdConfig maps a data type to its threshold
type ThresholdConfig map[string]Threshold

// Bound returns a pointer to v, for building thresholds
func Bound(v float64) *float64 {
	return &v
}

// DecodeThreshold decodes raw into the variant used for dataType.
// Unknown data types decode as RangeThreshold so they round-trip.
func DecodeThreshold(dataType string, raw []byte) (Threshold, error) {
	switch dataType {
	case DataTypeBloodPressure:
		var t BloodPressureThreshold
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("invalid %s threshold: %w", dataType, err)
		}
		return t, nil
	case DataTypeOxygenSaturation:
		var t FloorThreshold
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("invalid %s threshold: %w", dataType, err)
		}
		return t, nil
	default:
		var t RangeThreshold
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("invalid %s threshold: %w", dataType, err)
		}
		return t, nil
	}
}

// UnmarshalJSON decodes a config keyed by data type
func (c *ThresholdConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*c = nil
		return nil
	}

	cfg := make(ThresholdConfig, len(raw))
	for dataType, body := range raw {
		t, err := DecodeThreshold(dataType, body)
		if err != nil {
			return err
		}
		cfg[dataType] = t
	}
	*c = cfg
	return nil
}

// Validate rejects inverted bounds and variants that do not fit their data type
func (c ThresholdConfig) Validate() error {
	for dataType, t := range c {
		switch th := t.(type) {
		case RangeThreshold:
			if dataType == DataTypeBloodPressure || dataType == DataTypeOxygenSaturation {
				return fmt.Errorf("%s does not accept a min/max range", dataType)
			}
			if th.Min != nil && th.Max != nil && *th.Min > *th.Max {
				return fmt.Errorf("%s: min %g exceeds max %g", dataType, *th.Min, *th.Max)
			}
		case BloodPressureThreshold:
			if dataType != DataTypeBloodPressure {
				return fmt.Errorf("%s does not accept blood pressure bounds", dataType)
			}
			if th.SystolicMin != nil && th.SystolicMax != nil && *th.SystolicMin > *th.SystolicMax {
				return fmt.Errorf("%s: systolic_min exceeds systolic_max", dataType)
			}
			if th.DiastolicMin != nil && th.DiastolicMax != nil && *th.DiastolicMin > *th.DiastolicMax {
				return fmt.Errorf("%s: diastolic_min exceeds diastolic_max", dataType)
			}
		case FloorThreshold:
			if dataType != DataTypeOxygenSaturation {
				return fmt.Errorf("%s does not accept a floor threshold", dataType)
			}
		case nil:
			return fmt.Errorf("%s: threshold is empty", dataType)
		}
	}
	return nil
}
