package tensor

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func f16Payload(bits ...uint16) []byte {
	raw := make([]byte, 2*len(bits))
	for i, b := range bits {
		binary.LittleEndian.PutUint16(raw[2*i:], b)
	}
	return raw
}

// TestDecodeElements_Float16Subnormal tests conversion of subnormal float16 values.
func TestDecodeElements_Float16Subnormal(t *testing.T) {
	tests := []struct {
		name     string
		float16  uint16
		expected float32
		epsilon  float32
	}{
		{
			name:     "0x00fd (subnormal, mantissa=253)",
			float16:  0x00fd,
			expected: 1.5079975e-5, // 2^(-14) * (253/1024)
			epsilon:  1e-8,
		},
		{
			name:     "0x0001 (smallest subnormal)",
			float16:  0x0001,
			expected: 5.960464e-8, // 2^(-24)
			epsilon:  1e-10,
		},
		{
			name:     "0x03ff (largest subnormal)",
			float16:  0x03ff,
			expected: 6.097555e-5,
			epsilon:  1e-8,
		},
		{
			name:     "0x8001 (negative subnormal)",
			float16:  0x8001,
			expected: -5.960464e-8,
			epsilon:  1e-10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecodeElements(f16Payload(tt.float16), Float16)
			if err != nil {
				t.Fatalf("DecodeElements failed: %v", err)
			}
			diff := float32(math.Abs(float64(out[0] - tt.expected)))
			if diff > tt.epsilon {
				t.Errorf("decode(0x%04x) = %e, want %e (diff: %e > epsilon: %e)",
					tt.float16, out[0], tt.expected, diff, tt.epsilon)
			}
		})
	}
}

// TestDecodeElements_Float16Normal tests conversion of normal float16 values.
func TestDecodeElements_Float16Normal(t *testing.T) {
	raw := f16Payload(0x3c00, 0xbc00, 0x3800, 0x4000)
	expected := []float32{1.0, -1.0, 0.5, 2.0}

	out, err := DecodeElements(raw, Float16)
	if err != nil {
		t.Fatalf("DecodeElements failed: %v", err)
	}
	if len(out) != len(expected) {
		t.Fatalf("Expected %d values, got %d", len(expected), len(out))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("Index %d: expected %f, got %f", i, expected[i], out[i])
		}
	}
}

// TestDecodeElements_Float16Special tests zero, infinity and NaN.
func TestDecodeElements_Float16Special(t *testing.T) {
	out, err := DecodeElements(f16Payload(0x0000, 0x7c00, 0xfc00, 0x7e00), Float16)
	if err != nil {
		t.Fatalf("DecodeElements failed: %v", err)
	}
	if out[0] != 0 || math.Signbit(float64(out[0])) {
		t.Errorf("Expected +0, got %f", out[0])
	}
	if !math.IsInf(float64(out[1]), 1) {
		t.Errorf("Expected +Inf, got %f", out[1])
	}
	if !math.IsInf(float64(out[2]), -1) {
		t.Errorf("Expected -Inf, got %f", out[2])
	}
	if !math.IsNaN(float64(out[3])) {
		t.Errorf("Expected NaN, got %f", out[3])
	}
}

func TestDecodeElements_Float32(t *testing.T) {
	values := []float32{0, 1.5, -2.25, 3.1415927}
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}

	out, err := DecodeElements(raw, Float32)
	if err != nil {
		t.Fatalf("DecodeElements failed: %v", err)
	}
	for i := range values {
		if out[i] != values[i] {
			t.Errorf("Index %d: expected %f, got %f", i, values[i], out[i])
		}
	}
}

func TestDecodeElements_BFloat16(t *testing.T) {
	// bfloat16 is the upper half of a float32, so these values are exact.
	values := []float32{1.0, -2.0, 0.5, 256.0}
	raw := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(math.Float32bits(v)>>16))
	}

	out, err := DecodeElements(raw, BFloat16)
	if err != nil {
		t.Fatalf("DecodeElements failed: %v", err)
	}
	if len(out) != len(values) {
		t.Fatalf("Expected %d values, got %d", len(values), len(out))
	}
	for i := range values {
		if out[i] != values[i] {
			t.Errorf("Index %d: expected %f, got %f", i, values[i], out[i])
		}
	}
}

func TestDecodeElements_Errors(t *testing.T) {
	if _, err := DecodeElements(make([]byte, 8), Q8_K); !errors.Is(err, ErrUnsupportedDType) {
		t.Errorf("Expected ErrUnsupportedDType for q8_k payload, got %v", err)
	}
	if _, err := DecodeElements(make([]byte, 7), Float32); err == nil {
		t.Error("Expected error for truncated f32 payload")
	}
	if _, err := DecodeElements(make([]byte, 3), Float16); err == nil {
		t.Error("Expected error for truncated f16 payload")
	}
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in      string
		want    DataType
		wantErr bool
	}{
		{"F32", Float32, false},
		{"F16", Float16, false},
		{"BF16", BFloat16, false},
		{"q8_k", Q8_K, false},
		{"Q8_0", Q8_0, false},
		{"I64", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDataType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedDType) {
					t.Errorf("Expected ErrUnsupportedDType, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDataTypeForTag(t *testing.T) {
	for _, dt := range []DataType{Q8_0, Q8_K} {
		got, err := DataTypeForTag(dt.Tag())
		if err != nil {
			t.Fatalf("DataTypeForTag(0x%x) failed: %v", dt.Tag(), err)
		}
		if got != dt {
			t.Errorf("Expected %s, got %s", dt, got)
		}
	}

	if _, err := DataTypeForTag(0x99); !errors.Is(err, ErrUnsupportedDType) {
		t.Errorf("Expected ErrUnsupportedDType, got %v", err)
	}
}
