package shelltune

import "math/rand"

type tensor struct {
	data []float32
	dims []int
}

func newTensor(data []float32, dims ...int) (tensor, int) {
	s := 1
	for _, d := range dims {
		s *= d
	}
	if s > len(data) {
		panic("dimensions larger than supplied data")
	}
	return tensor{data: data[:s], dims: dims}, s
}

// carve cuts the next tensor of the given dims out of an arena, advancing it.
func carve(arena *[]float32, dims ...int) tensor {
	t, n := newTensor(*arena, dims...)
	*arena = (*arena)[n:]
	return t
}

func (t tensor) Data() []float32 {
	return t.data
}

func (t tensor) size() int {
	size := 1
	for _, dim := range t.dims {
		size *= dim
	}
	return size
}

// index returns the sub-tensor at the given leading indices.
func (t tensor) index(idx ...int) tensor {
	if len(idx) > len(t.dims) {
		panic("too many indices for tensor dimensions")
	}
	for i, dim := range idx {
		if dim < 0 || dim >= t.dims[i] {
			panic("index out of bounds")
		}
	}
	linearIndex := 0
	stride := t.size()
	for i, dim := range idx {
		stride /= t.dims[i]
		linearIndex += dim * stride
	}
	newDims := t.dims[len(idx):]
	size := 1
	for _, dim := range newDims {
		size *= dim
	}
	return tensor{data: t.data[linearIndex : linearIndex+size], dims: newDims}
}

// ParameterTensors holds the frozen base-model weights. The field order
// matches the GPT-2 checkpoint layout, so Init must carve the arena in
// exactly this sequence.
type ParameterTensors struct {
	Memory        []float32
	WordTokEmbed  tensor // (V, C) token embeddings
	WordPosEmbed  tensor // (maxT, C) positional embeddings
	LayerNorm1W   tensor // (L, C)
	LayerNorm1B   tensor // (L, C)
	QueryKeyValW  tensor // (L, 3*C, C) fused attention QKV projection
	QueryKeyValB  tensor // (L, 3*C)
	AttProjW      tensor // (L, C, C) attention output projection
	AttProjB      tensor // (L, C)
	Layer2NormW   tensor // (L, C)
	Layer2NormB   tensor // (L, C)
	FeedFwdW      tensor // (L, 4*C, C)
	FeedFwdB      tensor // (L, 4*C)
	FeedFwdProjW  tensor // (L, C, 4*C)
	FeedFwdProjB  tensor // (L, C)
	LayerFinNormW tensor // (C)
	LayerFinNormB tensor // (C)
}

// Len returns the total number of base parameters.
func (p *ParameterTensors) Len() int {
	return len(p.Memory)
}

// Init allocates one arena for all base parameters and carves the individual
// weight tensors out of it.
func (p *ParameterTensors) Init(V, C, maxSeqLen, L int) {
	total := V*C + maxSeqLen*C + 2*(L*C) + L*3*C*C + L*3*C + L*C*C + L*C +
		2*(L*C) + L*4*C*C + L*4*C + L*C*4*C + L*C + 2*C
	p.Memory = make([]float32, total)
	arena := p.Memory
	p.WordTokEmbed = carve(&arena, V, C)
	p.WordPosEmbed = carve(&arena, maxSeqLen, C)
	p.LayerNorm1W = carve(&arena, L, C)
	p.LayerNorm1B = carve(&arena, L, C)
	p.QueryKeyValW = carve(&arena, L, 3*C, C)
	p.QueryKeyValB = carve(&arena, L, 3*C)
	p.AttProjW = carve(&arena, L, C, C)
	p.AttProjB = carve(&arena, L, C)
	p.Layer2NormW = carve(&arena, L, C)
	p.Layer2NormB = carve(&arena, L, C)
	p.FeedFwdW = carve(&arena, L, 4*C, C)
	p.FeedFwdB = carve(&arena, L, 4*C)
	p.FeedFwdProjW = carve(&arena, L, C, 4*C)
	p.FeedFwdProjB = carve(&arena, L, C)
	p.LayerFinNormW = carve(&arena, C)
	p.LayerFinNormB = carve(&arena, C)
	if len(arena) != 0 {
		panic("parameter arena not fully carved")
	}
}

// randomize fills the weights with small gaussian values. Layernorm scales
// start at one so every block passes signal through from the first step.
func (p *ParameterTensors) randomize(rng *rand.Rand) {
	const std = 0.02
	for i := range p.Memory {
		p.Memory[i] = float32(rng.NormFloat64()) * std
	}
	ones := [][]float32{p.LayerNorm1W.data, p.Layer2NormW.data, p.LayerFinNormW.data}
	for _, w := range ones {
		for i := range w {
			w[i] = 1
		}
	}
}

// ActivationTensors holds the forward-pass activations for one batch shape.
type ActivationTensors struct {
	Memory             []float32
	Encoded            tensor // (B, T, C)
	Layer1Act          tensor // (L, B, T, C)
	LayerNorm1Mean     tensor // (L, B, T)
	LayerNorm1Rstd     tensor // (L, B, T)
	QueryKeyVal        tensor // (L, B, T, 3*C)
	AttentionInter     tensor // (L, B, T, C)
	PreAttention       tensor // (L, B, NH, T, T)
	Attention          tensor // (L, B, NH, T, T)
	AttentionProj      tensor // (L, B, T, C)
	Residual2          tensor // (L, B, T, C)
	LayerNorm2Act      tensor // (L, B, T, C)
	LayerNorm2Mean     tensor // (L, B, T)
	LayerNorm2Rstd     tensor // (L, B, T)
	FeedForward        tensor // (L, B, T, 4*C)
	FeedForwardGelu    tensor // (L, B, T, 4*C)
	FeedForwardProj    tensor // (L, B, T, C)
	Residual3          tensor // (L, B, T, C)
	LayerNormFinal     tensor // (B, T, C)
	LayerNormFinalMean tensor // (B, T)
	LayerNormFinalStd  tensor // (B, T)
	Logits             tensor // (B, T, V)
	Probabilities      tensor // (B, T, V)
	Losses             tensor // (B, T)
}

func (a *ActivationTensors) Init(B, C, T, L, NH, V int) {
	total := B*T*C + 7*(L*B*T*C) + 4*(L*B*T) + L*B*T*3*C + 2*(L*B*NH*T*T) +
		2*(L*B*T*4*C) + B*T*C + 2*(B*T) + 2*(B*T*V) + B*T
	a.Memory = make([]float32, total)
	arena := a.Memory
	a.Encoded = carve(&arena, B, T, C)
	a.Layer1Act = carve(&arena, L, B, T, C)
	a.LayerNorm1Mean = carve(&arena, L, B, T)
	a.LayerNorm1Rstd = carve(&arena, L, B, T)
	a.QueryKeyVal = carve(&arena, L, B, T, 3*C)
	a.AttentionInter = carve(&arena, L, B, T, C)
	a.PreAttention = carve(&arena, L, B, NH, T, T)
	a.Attention = carve(&arena, L, B, NH, T, T)
	a.AttentionProj = carve(&arena, L, B, T, C)
	a.Residual2 = carve(&arena, L, B, T, C)
	a.LayerNorm2Act = carve(&arena, L, B, T, C)
	a.LayerNorm2Mean = carve(&arena, L, B, T)
	a.LayerNorm2Rstd = carve(&arena, L, B, T)
	a.FeedForward = carve(&arena, L, B, T, 4*C)
	a.FeedForwardGelu = carve(&arena, L, B, T, 4*C)
	a.FeedForwardProj = carve(&arena, L, B, T, C)
	a.Residual3 = carve(&arena, L, B, T, C)
	a.LayerNormFinal = carve(&arena, B, T, C)
	a.LayerNormFinalMean = carve(&arena, B, T)
	a.LayerNormFinalStd = carve(&arena, B, T)
	a.Logits = carve(&arena, B, T, V)
	a.Probabilities = carve(&arena, B, T, V)
	a.Losses = carve(&arena, B, T)
	if len(arena) != 0 {
		panic("activation arena not fully carved")
	}
}
