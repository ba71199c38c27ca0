package shelltune

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const delta = 1e-4

func TestEncoderForward(t *testing.T) {
	tests := []struct {
		name    string
		inp     []int32
		wte     []float32
		wpe     []float32
		B, T, C int
		wantOut []float32
	}{
		{
			name:    "single position",
			inp:     []int32{1},
			wte:     []float32{0, 1, 2, 3},
			wpe:     []float32{4, 5, 6, 7},
			B:       1, T: 1, C: 2,
			wantOut: []float32{6, 8},
		},
		{
			name:    "position embedding advances",
			inp:     []int32{1, 0},
			wte:     []float32{0, 1, 2, 3},
			wpe:     []float32{4, 5, 6, 7},
			B:       1, T: 2, C: 2,
			wantOut: []float32{6, 8, 6, 8},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]float32, tt.B*tt.T*tt.C)
			encoderForward(out, tt.inp, tt.wte, tt.wpe, tt.B, tt.T, tt.C)
			assert.Equal(t, tt.wantOut, out)
		})
	}
}

func TestLayernormForward(t *testing.T) {
	inp := []float32{1, 3}
	weight := []float32{1, 1}
	bias := []float32{0, 0}
	out := make([]float32, 2)
	mean := make([]float32, 1)
	rstd := make([]float32, 1)

	layernormForward(out, mean, rstd, inp, weight, bias, 1, 1, 2)

	assert.InDelta(t, 2.0, mean[0], delta)
	assert.InDelta(t, -1.0, out[0], delta)
	assert.InDelta(t, 1.0, out[1], delta)
}

func TestLayernormBackwardFrozenAffine(t *testing.T) {
	inp := []float32{1, 3}
	weight := []float32{1, 1}
	bias := []float32{0, 0}
	out := make([]float32, 2)
	mean := make([]float32, 1)
	rstd := make([]float32, 1)
	layernormForward(out, mean, rstd, inp, weight, bias, 1, 1, 2)

	dinp := make([]float32, 2)
	dout := []float32{1, -1}
	// nil dweight and dbias: the affine parameters stay frozen.
	layernormBackward(dinp, nil, nil, dout, inp, weight, mean, rstd, 1, 1, 2)

	// Gradients through a normalization sum to zero over the channel.
	assert.InDelta(t, 0.0, dinp[0]+dinp[1], delta)
	assert.NotZero(t, dinp[0])
}

func TestMatmulForward(t *testing.T) {
	inp := []float32{1, 2, 3, 4} // (B=1, T=2, C=2)
	weight := []float32{1, 0, 0, 1}
	bias := []float32{1, -1}
	out := make([]float32, 4)

	matmulForward(out, inp, weight, bias, 1, 2, 2, 2)
	assert.InDeltaSlice(t, []float32{2, 1, 4, 3}, out, delta)

	matmulForward(out, inp, weight, nil, 1, 2, 2, 2)
	assert.InDeltaSlice(t, []float32{1, 2, 3, 4}, out, delta)
}

func TestMatmulBackwardFrozenWeights(t *testing.T) {
	inp := []float32{1, 2}
	weight := []float32{1, 0, 0, 1}
	dout := []float32{3, -2}
	dinp := make([]float32, 2)

	// nil dweight and dbias must be tolerated and leave dinp correct.
	matmulBackward(dinp, nil, nil, dout, inp, weight, 1, 1, 2, 2)
	assert.InDeltaSlice(t, []float32{3, -2}, dinp, delta)
}

func TestMatmulBackwardAccumulatesWeights(t *testing.T) {
	inp := []float32{1, 2}
	weight := []float32{1, 0, 0, 1}
	dout := []float32{3, -2}
	dinp := make([]float32, 2)
	dweight := make([]float32, 4)
	dbias := make([]float32, 2)

	matmulBackward(dinp, dweight, dbias, dout, inp, weight, 1, 1, 2, 2)
	assert.InDeltaSlice(t, []float32{3, 6, -2, -4}, dweight, delta)
	assert.InDeltaSlice(t, []float32{3, -2}, dbias, delta)
}

func TestLoraForward(t *testing.T) {
	// x = [1, 2], A = [0.5, -1] so h = -1.5; B = [2, 3]^T, scale = 2.
	inp := []float32{1, 2}
	aw := []float32{0.5, -1}
	bw := []float32{2, 3}
	h := make([]float32, 1)
	out := []float32{10, 20}

	loraForward(out, inp, nil, aw, bw, h, 1, 1, 2, 2, 1, 2)

	assert.InDelta(t, -1.5, h[0], delta)
	assert.InDeltaSlice(t, []float32{4, 11}, out, delta)
}

func TestLoraForwardZeroBIsNoOp(t *testing.T) {
	inp := []float32{1, 2, 3}
	aw := []float32{0.3, -0.7, 0.1}
	bw := make([]float32, 3) // zero B: the adapter path adds nothing
	h := make([]float32, 1)
	out := []float32{5, 6, 7}

	loraForward(out, inp, nil, aw, bw, h, 1, 1, 3, 3, 1, 2)
	assert.Equal(t, []float32{5, 6, 7}, out)
}

func TestLoraForwardDroppedInput(t *testing.T) {
	inp := []float32{1, 2}
	mask := []float32{0, 0} // everything dropped
	aw := []float32{0.5, -1}
	bw := []float32{2, 3}
	h := make([]float32, 1)
	out := []float32{10, 20}

	loraForward(out, inp, mask, aw, bw, h, 1, 1, 2, 2, 1, 2)
	assert.Equal(t, float32(0), h[0])
	assert.Equal(t, []float32{10, 20}, out)
}

func TestLoraBackward(t *testing.T) {
	inp := []float32{1, 2}
	aw := []float32{0.5, -1}
	bw := []float32{2, 3}
	h := []float32{-1.5} // as stored by the forward pass
	dout := []float32{1, -1}

	dinp := make([]float32, 2)
	da := make([]float32, 2)
	db := make([]float32, 2)
	loraBackward(dinp, da, db, dout, inp, nil, aw, bw, h, 1, 1, 2, 2, 1, 2)

	// dh = scale * B^T dout = 2 * (2*1 + 3*(-1)) = -2
	assert.InDeltaSlice(t, []float32{-3, 3}, db, delta)   // scale * dout * h
	assert.InDeltaSlice(t, []float32{-2, -4}, da, delta)  // dh * x
	assert.InDeltaSlice(t, []float32{-1, 2}, dinp, delta) // A^T dh
}

func TestGeluForward(t *testing.T) {
	inp := []float32{0, 1, -1}
	out := make([]float32, 3)
	geluForward(out, inp, 3)
	assert.InDelta(t, 0.0, out[0], delta)
	assert.InDelta(t, 0.8412, out[1], 1e-3)
	assert.InDelta(t, -0.1588, out[2], 1e-3)
}

func TestResidualForwardBackward(t *testing.T) {
	out := make([]float32, 2)
	residualForward(out, []float32{1, 2}, []float32{10, 20}, 2)
	assert.Equal(t, []float32{11, 22}, out)

	d1 := []float32{1, 1}
	d2 := []float32{0, 0}
	residualBackward(d1, d2, []float32{5, -5}, 2)
	assert.Equal(t, []float32{6, -4}, d1)
	assert.Equal(t, []float32{5, -5}, d2)
}

func TestSoftmaxForward(t *testing.T) {
	logits := []float32{0, 0, 0, 1}
	probs := make([]float32, 4)
	softmaxForward(probs, logits, 1, 2, 2)

	assert.InDelta(t, 0.5, probs[0], delta)
	assert.InDelta(t, 0.5, probs[1], delta)
	var sum float32
	for _, p := range probs[2:] {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, delta)
	assert.Greater(t, probs[3], probs[2])
}

func TestCrossEntropyForward(t *testing.T) {
	probs := []float32{0.25, 0.75}
	losses := make([]float32, 1)
	crossEntropyForward(losses, probs, []int32{1}, 1, 1, 2)
	assert.InDelta(t, 0.2877, losses[0], 1e-3) // -ln(0.75)
}

func TestCrossentropySoftmaxBackward(t *testing.T) {
	probs := []float32{0.25, 0.75}
	dlosses := []float32{1}
	dlogits := make([]float32, 2)
	crossentropySoftmaxBackward(dlogits, dlosses, probs, []int32{1}, 1, 1, 2)
	assert.InDeltaSlice(t, []float32{0.25, -0.25}, dlogits, delta)
}
