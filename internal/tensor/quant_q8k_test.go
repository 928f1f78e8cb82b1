package tensor

import (
	"math"
	"testing"
)

// TestQuantizeQ8_K_ZeroBlock tests that an all-zero block stays zero
func TestQuantizeQ8_K_ZeroBlock(t *testing.T) {
	blocks, err := QuantizeQ8_K(make([]float32, QK_K))
	if err != nil {
		t.Fatalf("QuantizeQ8_K failed: %v", err)
	}
	if blocks[0].D != 0 {
		t.Errorf("Expected zero scale, got %f", blocks[0].D)
	}

	output := make([]float32, QK_K)
	if err := DequantizeQ8_K(blocks, output); err != nil {
		t.Fatalf("DequantizeQ8_K failed: %v", err)
	}
	for i, val := range output {
		if val != 0 {
			t.Errorf("Index %d: expected 0, got %f", i, val)
		}
	}
}

// TestQuantizeQ8_K_Roundtrip tests quantization followed by dequantization
func TestQuantizeQ8_K_Roundtrip(t *testing.T) {
	input := make([]float32, 2*QK_K)
	for i := range input {
		input[i] = float32(math.Sin(float64(i)*0.37)) * 3.0
	}

	blocks, err := QuantizeQ8_K(input)
	if err != nil {
		t.Fatalf("QuantizeQ8_K failed: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(blocks))
	}

	output := make([]float32, len(input))
	if err := DequantizeQ8_K(blocks, output); err != nil {
		t.Fatalf("DequantizeQ8_K failed: %v", err)
	}

	// Step size is amax/128, so the error is at most half a step.
	tolerance := 3.0 / 128.0
	for i := range input {
		if diff := math.Abs(float64(input[i] - output[i])); diff > tolerance {
			t.Errorf("Index %d: input %f, output %f, diff %f > %f", i, input[i], output[i], diff, tolerance)
		}
	}
}

// TestQuantizeQ8_K_Bsums tests that group sums match the quantized values
func TestQuantizeQ8_K_Bsums(t *testing.T) {
	input := make([]float32, QK_K)
	for i := range input {
		input[i] = float32(i%17) - 8
	}

	blocks, err := QuantizeQ8_K(input)
	if err != nil {
		t.Fatalf("QuantizeQ8_K failed: %v", err)
	}

	for g := 0; g < QK_K/16; g++ {
		var sum int16
		for i := 0; i < 16; i++ {
			sum += int16(blocks[0].Qs[g*16+i])
		}
		if blocks[0].Bsums[g] != sum {
			t.Errorf("Group %d: expected bsum %d, got %d", g, sum, blocks[0].Bsums[g])
		}
	}
}

// TestQuantizeQ8_K_ExtremeMapsToMinus128 checks the sign convention of the scale
func TestQuantizeQ8_K_ExtremeMapsToMinus128(t *testing.T) {
	input := make([]float32, QK_K)
	input[5] = 4.0
	input[9] = -2.0

	blocks, err := QuantizeQ8_K(input)
	if err != nil {
		t.Fatalf("QuantizeQ8_K failed: %v", err)
	}
	if blocks[0].Qs[5] != -128 {
		t.Errorf("Expected largest magnitude to quantize to -128, got %d", blocks[0].Qs[5])
	}
	if blocks[0].Qs[9] != 64 {
		t.Errorf("Expected half magnitude with opposite sign to quantize to 64, got %d", blocks[0].Qs[9])
	}
	if blocks[0].D >= 0 {
		t.Errorf("Expected negative scale, got %f", blocks[0].D)
	}
}

func TestQuantizeQ8_K_InvalidLength(t *testing.T) {
	if _, err := QuantizeQ8_K(make([]float32, QK_K+1)); err == nil {
		t.Error("Expected error for length not divisible by QK_K")
	}
}

// TestQ8_KBlockEncoding tests that the explicit byte layout round-trips
func TestQ8_KBlockEncoding(t *testing.T) {
	block := BlockQ8_K{D: -0.0123}
	for i := range block.Qs {
		block.Qs[i] = int8(i - 128)
	}
	for i := range block.Bsums {
		block.Bsums[i] = int16(-1000 + i*37)
	}

	raw := make([]byte, Q8_K_BLOCK_SIZE)
	putQ8_KBlock(raw, &block)

	// D is little-endian at offset 0
	if raw[0] != byte(math.Float32bits(block.D)) {
		t.Errorf("Expected low byte of D first, got 0x%02x", raw[0])
	}

	parsed := parseQ8_KBlock(raw)
	if parsed != block {
		t.Errorf("Parsed block does not match original")
	}
}

func TestQ8_KCodec(t *testing.T) {
	codec, err := NewCodec(Q8_K)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	if codec.BlockWidth() != 256 || codec.BlockSize() != 292 {
		t.Errorf("Unexpected geometry: width=%d size=%d", codec.BlockWidth(), codec.BlockSize())
	}
	if codec.Type().Tag() != 0x18 {
		t.Errorf("Expected tag 0x18, got 0x%x", codec.Type().Tag())
	}

	input := make([]float32, QK_K)
	for i := range input {
		input[i] = float32(i)/64 - 2
	}
	encoded := make([]byte, Q8_K_BLOCK_SIZE)
	if err := codec.Quantize(input, encoded); err != nil {
		t.Fatalf("Quantize failed: %v", err)
	}

	output := make([]float32, QK_K)
	if err := codec.Dequantize(encoded, output); err != nil {
		t.Fatalf("Dequantize failed: %v", err)
	}
	for i := range input {
		if diff := math.Abs(float64(input[i] - output[i])); diff > 2.0/128 {
			t.Errorf("Index %d: diff %f too large", i, diff)
		}
	}

	if err := codec.Quantize(input, make([]byte, 10)); err == nil {
		t.Error("Expected error for undersized destination")
	}
}
