package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Well-known measurement data types
const (
	DataTypeHeartRate        = "heart_rate"
	DataTypeBloodPressure    = "blood_pressure"
	DataTypeTemperature      = "temperature"
	DataTypeOxygenSaturation = "oxygen_saturation"
)

// MeasurementValue is either a ScalarValue or a BloodPressureValue
type MeasurementValue interface {
	measurementValue()
}

// ScalarValue is a single numeric reading
type ScalarValue float64

func (ScalarValue) measurementValue() {}

// BloodPressureValue is a systolic/diastolic pair
type BloodPressureValue struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

func (BloodPressureValue) measurementValue() {}

// ParseValue decodes a raw JSON value: numbers become ScalarValue, objects BloodPressureValue
func ParseValue(raw []byte) (MeasurementValue, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("value is required")
	}

	if raw[0] == '{' {
		var fields map[string]*float64
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("invalid structured value: %w", err)
		}
		sys, dia := fields["systolic"], fields["diastolic"]
		if sys == nil || dia == nil {
			return nil, fmt.Errorf("structured value requires systolic and diastolic")
		}
		return BloodPressureValue{Systolic: *sys, Diastolic: *dia}, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("value must be a number or {systolic, diastolic}: %w", err)
	}
	return ScalarValue(f), nil
}

// EncodeValue is the inverse of ParseValue
func EncodeValue(v MeasurementValue) ([]byte, error) {
	switch val := v.(type) {
	case ScalarValue:
		return json.Marshal(float64(val))
	case BloodPressureValue:
		return json.Marshal(val)
	case nil:
		return nil, fmt.Errorf("value is required")
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// CheckValueShape verifies the value shape expected for dataType.
// Blood pressure must be structured and the other known types scalar; unknown types accept either.
func CheckValueShape(dataType string, v MeasurementValue) error {
	switch val := v.(type) {
	case ScalarValue:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return fmt.Errorf("value must be finite")
		}
		if dataType == DataTypeBloodPressure {
			return fmt.Errorf("%s requires systolic and diastolic", dataType)
		}
	case BloodPressureValue:
		switch dataType {
		case DataTypeHeartRate, DataTypeTemperature, DataTypeOxygenSaturation:
			return fmt.Errorf("%s requires a numeric value", dataType)
		}
	case nil:
		return fmt.Errorf("value is required")
	}
	return nil
}

// FormatValue renders a value for alert messages and reports
func FormatValue(v MeasurementValue) string {
	switch val := v.(type) {
	case ScalarValue:
		return fmt.Sprintf("%g", float64(val))
	case BloodPressureValue:
		return fmt.Sprintf("%g/%g", val.Systolic, val.Diastolic)
	}
	return ""
}

// MarshalJSON encodes the tagged value inline
func (p MeasurementPoint) MarshalJSON() ([]byte, error) {
	type alias MeasurementPoint
	var raw json.RawMessage
	if p.Value != nil {
		b, err := EncodeValue(p.Value)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(struct {
		alias
		Value json.RawMessage `json:"value"`
	}{alias: alias(p), Value: raw})
}

// UnmarshalJSON decodes the tagged value
func (p *MeasurementPoint) UnmarshalJSON(data []byte) error {
	type alias MeasurementPoint
	aux := struct {
		*alias
		Value json.RawMessage `json:"value"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Value) > 0 {
		v, err := ParseValue(aux.Value)
		if err != nil {
			return err
		}
		p.Value = v
	}
	return nil
}
