package shelltune

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
)

// Base checkpoint format: a 256-word int32 header followed by the parameter
// arena. The layout is the llm.c GPT-2 export, so pretrained checkpoints load
// as-is; merged fine-tunes are written back in the same format.
const (
	modelMagic   int32 = 20240326
	modelVersion int32 = 1
)

// Adapter checkpoint format: header carries the adapter shape, then the
// adapter arena.
const (
	adapterMagic   int32 = 20250815
	adapterVersion int32 = 1
)

// ModelConfig holds the base-model hyperparameters.
type ModelConfig struct {
	MaxSeqLen int `json:"max_seq_len"`
	V         int `json:"vocab_size"`
	L         int `json:"num_layers"`
	NH        int `json:"num_heads"`
	C         int `json:"channels"`
	EOT       int32
}

// Model is a GPT-2 style causal language model whose base weights stay frozen
// for the lifetime of a run. Only injected adapter matrices are trainable:
// gradient and optimizer arenas exist solely for the adapter parameters, so
// the base weights cannot be written by an update even by accident.
type Model struct {
	Tokenizer Tokenizer
	Config    ModelConfig
	Params    ParameterTensors // frozen base weights
	Adapters  AdapterTensors   // trainable low-rank matrices
	// AdapterGrads mirrors Adapters; there is deliberately no gradient
	// arena for Params.
	AdapterGrads AdapterTensors
	MMemory      []float32 // AdamW first moments, adapter-sized
	VMemory      []float32 // AdamW second moments, adapter-sized
	Acts         ActivationTensors
	GradsActs    ActivationTensors
	adapterActs  adapterActivations
	adapterCfg   AdapterConfig
	hasAdapters  bool

	actB, actT int // allocated activation shape
	B, T       int // shape of the most recent forward
	Inputs     []int32
	Targets    []int32
	MeanLoss   float32
	Rand       *rand.Rand
	training   bool
}

// LoadBaseModel loads a pretrained checkpoint and optionally its tokenizer.
func LoadBaseModel(checkpointPath, tokenizerPath string) (*Model, error) {
	f, err := os.Open(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("opening model checkpoint: %w", err)
	}
	defer f.Close()
	model, err := loadFromReader(f)
	if err != nil {
		return nil, err
	}
	if tokenizerPath == "" {
		return model, nil
	}
	tok, err := NewTokenizer(tokenizerPath)
	if err != nil {
		return nil, err
	}
	model.Tokenizer = tok
	return model, nil
}

// NewModel builds an untrained model with the given shape and vocabulary.
// Used by tests and sanity checks; real runs load a pretrained checkpoint.
func NewModel(cfg ModelConfig, vocab []string) *Model {
	if cfg.EOT == 0 {
		cfg.EOT = int32(len(vocab) - 1)
	}
	model := &Model{
		Config:    cfg,
		Tokenizer: newTokenizer(vocab, cfg.EOT),
		Rand:      rand.New(rand.NewSource(21)),
	}
	model.Params.Init(cfg.V, cfg.C, cfg.MaxSeqLen, cfg.L)
	model.Params.randomize(model.Rand)
	return model
}

func loadFromReader(f io.Reader) (*Model, error) {
	header := make([]int32, headerWords)
	if err := binary.Read(f, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("reading model header: %w", err)
	}
	if header[0] != modelMagic || header[1] != modelVersion {
		return nil, errors.New("bad model file format")
	}
	model := &Model{
		Config: ModelConfig{
			MaxSeqLen: int(header[2]),
			V:         int(header[3]),
			L:         int(header[4]),
			NH:        int(header[5]),
			C:         int(header[6]),
			EOT:       EndOfText,
		},
		Rand: rand.New(rand.NewSource(21)),
	}
	model.Params.Init(model.Config.V, model.Config.C, model.Config.MaxSeqLen, model.Config.L)
	if err := binary.Read(f, binary.LittleEndian, model.Params.Memory); err != nil {
		return nil, fmt.Errorf("reading model parameters: %w", err)
	}
	return model, nil
}

// Save writes the model in the base checkpoint format. Call MergeAdapters
// first to fold trained adapters into the saved weights.
func (m *Model) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	header := make([]int32, headerWords)
	header[0] = modelMagic
	header[1] = modelVersion
	header[2] = int32(m.Config.MaxSeqLen)
	header[3] = int32(m.Config.V)
	header[4] = int32(m.Config.L)
	header[5] = int32(m.Config.NH)
	header[6] = int32(m.Config.C)
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, m.Params.Memory)
}

func (m *Model) String() string {
	s := "[shelltune model]\n"
	s += fmt.Sprintf("max_seq_len: %d\n", m.Config.MaxSeqLen)
	s += fmt.Sprintf("vocab_size: %d\n", m.Config.V)
	s += fmt.Sprintf("num_layers: %d\n", m.Config.L)
	s += fmt.Sprintf("num_heads: %d\n", m.Config.NH)
	s += fmt.Sprintf("channels: %d\n", m.Config.C)
	s += fmt.Sprintf("num_parameters: %d\n", m.Params.Len())
	if m.hasAdapters {
		s += fmt.Sprintf("num_adapter_parameters: %d\n", m.Adapters.Len())
	}
	return s
}

// InjectAdapters attaches trainable low-rank matrices to the configured
// target projections. A starts gaussian and B zero, so the adapted model is
// bit-equivalent to the base model until the first update.
func (m *Model) InjectAdapters(cfg AdapterConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if m.hasAdapters {
		return errors.New("adapters already injected")
	}
	m.adapterCfg = cfg
	m.Adapters.Init(cfg, m.Config.L, m.Config.C)
	m.AdapterGrads.Init(cfg, m.Config.L, m.Config.C)
	m.Adapters.randomize(m.Rand)
	m.hasAdapters = true
	// Activation arenas depend on the adapter shape, so force reallocation.
	m.Acts = ActivationTensors{}
	m.GradsActs = ActivationTensors{}
	return nil
}

// AdapterConfig returns the injected adapter configuration.
func (m *Model) AdapterConfig() AdapterConfig {
	return m.adapterCfg
}

// SetTraining toggles training mode. Dropout on the adapter inputs is only
// applied while training; generation and validation run with it off.
func (m *Model) SetTraining(on bool) {
	m.training = on
}

// ensureActs (re)allocates activation arenas when the requested batch shape
// exceeds what is currently allocated.
func (m *Model) ensureActs(B, T int) {
	if m.Acts.Memory != nil && B <= m.actB && T <= m.actT {
		return
	}
	L, NH, V, C := m.Config.L, m.Config.NH, m.Config.V, m.Config.C
	m.actB, m.actT = B, T
	m.Acts.Init(B, C, T, L, NH, V)
	m.GradsActs.Init(B, C, T, L, NH, V)
	if m.hasAdapters {
		m.adapterActs.Init(m.adapterCfg, B, T, C, L)
	}
	m.Inputs = make([]int32, B*T)
	m.Targets = make([]int32, B*T)
}

// Forward runs the model on B sequences of length T. When target is non-nil
// the per-token cross-entropy losses and their mean are computed as well.
func (m *Model) Forward(input, target []int32, B, T int) {
	V, L, NH, C := m.Config.V, m.Config.L, m.Config.NH, m.Config.C
	m.ensureActs(B, T)
	m.B, m.T = B, T
	copy(m.Inputs, input)
	copy(m.Targets, target)
	params, acts := m.Params, m.Acts

	lora := m.hasAdapters
	r, scale := m.adapterCfg.R, m.adapterCfg.scale()
	dropout := m.training && m.adapterCfg.Dropout > 0
	if lora && dropout {
		fillDropoutMask(m.adapterActs.QKVMask.data, m.adapterCfg.Dropout, m.Rand)
		fillDropoutMask(m.adapterActs.ProjMask.data, m.adapterCfg.Dropout, m.Rand)
	}

	encoderForward(acts.Encoded.data, input, params.WordTokEmbed.data, params.WordPosEmbed.data, B, T, C)
	var residual []float32
	for l := 0; l < L; l++ {
		if l == 0 {
			residual = acts.Encoded.data
		} else {
			residual = acts.Residual3.data[(l-1)*B*T*C:]
		}
		lLn1w := params.LayerNorm1W.data[l*C:]
		lLn1b := params.LayerNorm1B.data[l*C:]
		lQkvw := params.QueryKeyValW.data[l*3*C*C:]
		lQkvb := params.QueryKeyValB.data[l*3*C:]
		lAttprojw := params.AttProjW.data[l*C*C:]
		lAttprojb := params.AttProjB.data[l*C:]
		lLn2w := params.Layer2NormW.data[l*C:]
		lLn2b := params.Layer2NormB.data[l*C:]
		lFcw := params.FeedFwdW.data[l*4*C*C:]
		lFcb := params.FeedFwdB.data[l*4*C:]
		lFcprojw := params.FeedFwdProjW.data[l*C*4*C:]
		lFcprojb := params.FeedFwdProjB.data[l*C:]

		lLn1 := acts.Layer1Act.data[l*B*T*C:]
		lLn1Mean := acts.LayerNorm1Mean.data[l*B*T:]
		lLn1Rstd := acts.LayerNorm1Rstd.data[l*B*T:]
		lQkv := acts.QueryKeyVal.data[l*B*T*3*C:]
		lAtty := acts.AttentionInter.data[l*B*T*C:]
		lPreatt := acts.PreAttention.data[l*B*NH*T*T:]
		lAtt := acts.Attention.data[l*B*NH*T*T:]
		lAttproj := acts.AttentionProj.data[l*B*T*C:]
		lResidual2 := acts.Residual2.data[l*B*T*C:]
		lLn2 := acts.LayerNorm2Act.data[l*B*T*C:]
		lLn2Mean := acts.LayerNorm2Mean.data[l*B*T:]
		lLn2Rstd := acts.LayerNorm2Rstd.data[l*B*T:]
		lFch := acts.FeedForward.data[l*B*T*4*C:]
		lFchGelu := acts.FeedForwardGelu.data[l*B*T*4*C:]
		lFcproj := acts.FeedForwardProj.data[l*B*T*C:]
		lResidual3 := acts.Residual3.data[l*B*T*C:]

		layernormForward(lLn1, lLn1Mean, lLn1Rstd, residual, lLn1w, lLn1b, B, T, C)
		matmulForward(lQkv, lLn1, lQkvw, lQkvb, B, T, C, 3*C)
		if lora && m.adapterCfg.targets(TargetAttnQKV) {
			var mask []float32
			if dropout {
				mask = m.adapterActs.QKVMask.data[l*B*T*C:]
			}
			loraForward(lQkv, lLn1, mask,
				m.Adapters.QKVA.data[l*r*C:], m.Adapters.QKVB.data[l*3*C*r:],
				m.adapterActs.QKVHidden.data[l*B*T*r:], B, T, C, 3*C, r, scale)
		}
		attentionForward(lAtty, lPreatt, lAtt, lQkv, B, T, C, NH)
		matmulForward(lAttproj, lAtty, lAttprojw, lAttprojb, B, T, C, C)
		if lora && m.adapterCfg.targets(TargetAttnProj) {
			var mask []float32
			if dropout {
				mask = m.adapterActs.ProjMask.data[l*B*T*C:]
			}
			loraForward(lAttproj, lAtty, mask,
				m.Adapters.ProjA.data[l*r*C:], m.Adapters.ProjB.data[l*C*r:],
				m.adapterActs.ProjHidden.data[l*B*T*r:], B, T, C, C, r, scale)
		}
		residualForward(lResidual2, residual, lAttproj, B*T*C)
		layernormForward(lLn2, lLn2Mean, lLn2Rstd, lResidual2, lLn2w, lLn2b, B, T, C)
		matmulForward(lFch, lLn2, lFcw, lFcb, B, T, C, 4*C)
		geluForward(lFchGelu, lFch, B*T*4*C)
		matmulForward(lFcproj, lFchGelu, lFcprojw, lFcprojb, B, T, 4*C, C)
		residualForward(lResidual3, lResidual2, lFcproj, B*T*C)
	}
	residual = acts.Residual3.data[(L-1)*B*T*C:]
	layernormForward(acts.LayerNormFinal.data, acts.LayerNormFinalMean.data, acts.LayerNormFinalStd.data, residual, params.LayerFinNormW.data, params.LayerFinNormB.data, B, T, C)
	matmulForward(acts.Logits.data, acts.LayerNormFinal.data, params.WordTokEmbed.data, nil, B, T, C, V)
	softmaxForward(acts.Probabilities.data, acts.Logits.data, B, T, V)

	if len(target) > 0 {
		crossEntropyForward(acts.Losses.data, acts.Probabilities.data, target, B, T, V)
		var meanLoss float32
		for _, loss := range acts.Losses.data[:B*T] {
			meanLoss += loss
		}
		m.MeanLoss = meanLoss / float32(B*T)
	} else {
		m.MeanLoss = -1.0
	}
}

// Backward accumulates adapter gradients for the most recent Forward. The
// activation gradients flow through the whole network, but parameter
// gradients land only in the adapter arena.
func (m *Model) Backward() error {
	if m.MeanLoss == -1.0 {
		return errors.New("must forward with targets before backward")
	}
	if !m.hasAdapters {
		return errors.New("no trainable parameters: inject adapters first")
	}
	B, T, V, L, NH, C := m.B, m.T, m.Config.V, m.Config.L, m.Config.NH, m.Config.C
	r, scale := m.adapterCfg.R, m.adapterCfg.scale()
	dropout := m.training && m.adapterCfg.Dropout > 0
	params, acts, gradsActs := m.Params, m.Acts, m.GradsActs

	// Activation gradients are scratch state for this batch and must start
	// clean; adapter gradients keep accumulating until the optimizer step.
	for i := range m.GradsActs.Memory {
		m.GradsActs.Memory[i] = 0.0
	}

	dlossMean := 1.0 / float32(B*T)
	losses := gradsActs.Losses.data[:B*T]
	for i := range losses {
		losses[i] = dlossMean
	}
	crossentropySoftmaxBackward(gradsActs.Logits.data, gradsActs.Losses.data, acts.Probabilities.data, m.Targets, B, T, V)
	matmulBackward(gradsActs.LayerNormFinal.data, nil, nil, gradsActs.Logits.data, acts.LayerNormFinal.data, params.WordTokEmbed.data, B, T, C, V)
	residual := acts.Residual3.data[(L-1)*B*T*C:]
	dresidual := gradsActs.Residual3.data[(L-1)*B*T*C:]
	layernormBackward(dresidual, nil, nil, gradsActs.LayerNormFinal.data, residual, params.LayerFinNormW.data, acts.LayerNormFinalMean.data, acts.LayerNormFinalStd.data, B, T, C)

	for l := L - 1; l >= 0; l-- {
		if l == 0 {
			residual = acts.Encoded.data
			dresidual = gradsActs.Encoded.data
		} else {
			residual = acts.Residual3.data[(l-1)*B*T*C:]
			dresidual = gradsActs.Residual3.data[(l-1)*B*T*C:]
		}
		lLn1w := params.LayerNorm1W.data[l*C:]
		lQkvw := params.QueryKeyValW.data[l*3*C*C:]
		lAttprojw := params.AttProjW.data[l*C*C:]
		lLn2w := params.Layer2NormW.data[l*C:]
		lFcw := params.FeedFwdW.data[l*4*C*C:]
		lFcprojw := params.FeedFwdProjW.data[l*C*4*C:]

		lLn1 := acts.Layer1Act.data[l*B*T*C:]
		lLn1Mean := acts.LayerNorm1Mean.data[l*B*T:]
		lLn1Rstd := acts.LayerNorm1Rstd.data[l*B*T:]
		lQkv := acts.QueryKeyVal.data[l*B*T*3*C:]
		lAtty := acts.AttentionInter.data[l*B*T*C:]
		lAtt := acts.Attention.data[l*B*NH*T*T:]
		lResidual2 := acts.Residual2.data[l*B*T*C:]
		lLn2 := acts.LayerNorm2Act.data[l*B*T*C:]
		lLn2Mean := acts.LayerNorm2Mean.data[l*B*T:]
		lLn2Rstd := acts.LayerNorm2Rstd.data[l*B*T:]
		lFch := acts.FeedForward.data[l*B*T*4*C:]
		lFchGelu := acts.FeedForwardGelu.data[l*B*T*4*C:]

		dlLn1 := gradsActs.Layer1Act.data[l*B*T*C:]
		dlQkv := gradsActs.QueryKeyVal.data[l*B*T*3*C:]
		dlAtty := gradsActs.AttentionInter.data[l*B*T*C:]
		dlPreatt := gradsActs.PreAttention.data[l*B*NH*T*T:]
		dlAtt := gradsActs.Attention.data[l*B*NH*T*T:]
		dlAttproj := gradsActs.AttentionProj.data[l*B*T*C:]
		dlResidual2 := gradsActs.Residual2.data[l*B*T*C:]
		dlLn2 := gradsActs.LayerNorm2Act.data[l*B*T*C:]
		dlFch := gradsActs.FeedForward.data[l*B*T*4*C:]
		dlFchGelu := gradsActs.FeedForwardGelu.data[l*B*T*4*C:]
		dlFcproj := gradsActs.FeedForwardProj.data[l*B*T*C:]
		dlResidual3 := gradsActs.Residual3.data[l*B*T*C:]

		residualBackward(dlResidual2, dlFcproj, dlResidual3, B*T*C)
		matmulBackward(dlFchGelu, nil, nil, dlFcproj, lFchGelu, lFcprojw, B, T, 4*C, C)
		geluBackward(dlFch, lFch, dlFchGelu, B*T*4*C)
		matmulBackward(dlLn2, nil, nil, dlFch, lLn2, lFcw, B, T, C, 4*C)
		layernormBackward(dlResidual2, nil, nil, dlLn2, lResidual2, lLn2w, lLn2Mean, lLn2Rstd, B, T, C)
		residualBackward(dresidual, dlAttproj, dlResidual2, B*T*C)
		matmulBackward(dlAtty, nil, nil, dlAttproj, lAtty, lAttprojw, B, T, C, C)
		if m.adapterCfg.targets(TargetAttnProj) {
			var mask []float32
			if dropout {
				mask = m.adapterActs.ProjMask.data[l*B*T*C:]
			}
			loraBackward(dlAtty, m.AdapterGrads.ProjA.data[l*r*C:], m.AdapterGrads.ProjB.data[l*C*r:],
				dlAttproj, lAtty, mask,
				m.Adapters.ProjA.data[l*r*C:], m.Adapters.ProjB.data[l*C*r:],
				m.adapterActs.ProjHidden.data[l*B*T*r:], B, T, C, C, r, scale)
		}
		attentionBackward(dlQkv, dlPreatt, dlAtt, dlAtty, lQkv, lAtt, B, T, C, NH)
		matmulBackward(dlLn1, nil, nil, dlQkv, lLn1, lQkvw, B, T, C, 3*C)
		if m.adapterCfg.targets(TargetAttnQKV) {
			var mask []float32
			if dropout {
				mask = m.adapterActs.QKVMask.data[l*B*T*C:]
			}
			loraBackward(dlLn1, m.AdapterGrads.QKVA.data[l*r*C:], m.AdapterGrads.QKVB.data[l*3*C*r:],
				dlQkv, lLn1, mask,
				m.Adapters.QKVA.data[l*r*C:], m.Adapters.QKVB.data[l*3*C*r:],
				m.adapterActs.QKVHidden.data[l*B*T*r:], B, T, C, 3*C, r, scale)
		}
		layernormBackward(dresidual, nil, nil, dlLn1, residual, lLn1w, lLn1Mean, lLn1Rstd, B, T, C)
	}
	// The embeddings are frozen, so the chain stops here: no encoder backward.
	return nil
}

// ScaleAdapterGrads multiplies the accumulated adapter gradients, used to
// average micro-batches under gradient accumulation.
func (m *Model) ScaleAdapterGrads(s float32) {
	for i := range m.AdapterGrads.Memory {
		m.AdapterGrads.Memory[i] *= s
	}
}

// Update applies one AdamW step to the adapter parameters. Base weights are
// untouched; the optimizer state is sized to the adapter arena only.
func (m *Model) Update(learningRate, beta1, beta2, eps, weightDecay float32, t int) error {
	if !m.hasAdapters {
		return errors.New("no trainable parameters: inject adapters first")
	}
	if m.MMemory == nil {
		m.MMemory = make([]float32, m.Adapters.Len())
		m.VMemory = make([]float32, m.Adapters.Len())
	}
	for i := 0; i < m.Adapters.Len(); i++ {
		parameter := m.Adapters.Memory[i]
		gradient := m.AdapterGrads.Memory[i]
		mom := beta1*m.MMemory[i] + (1.0-beta1)*gradient
		v := beta2*m.VMemory[i] + (1.0-beta2)*gradient*gradient
		mHat := mom / (1.0 - Pow(beta1, float32(t)))
		vHat := v / (1.0 - Pow(beta2, float32(t)))
		m.MMemory[i] = mom
		m.VMemory[i] = v
		m.Adapters.Memory[i] -= learningRate * (mHat/(Sqrt(vHat)+eps) + weightDecay*parameter)
	}
	return nil
}

// ZeroGradient clears the adapter gradients and activation gradients.
func (m *Model) ZeroGradient() {
	for i := range m.GradsActs.Memory {
		m.GradsActs.Memory[i] = 0.0
	}
	for i := range m.AdapterGrads.Memory {
		m.AdapterGrads.Memory[i] = 0.0
	}
}

// MergeAdapters folds scale*B@A into the frozen base projections and zeroes
// the B matrices, leaving the adapter path a no-op. The merged model saves
// and serves as a plain base-format checkpoint.
func (m *Model) MergeAdapters() {
	if !m.hasAdapters {
		return
	}
	L, C := m.Config.L, m.Config.C
	r, scale := m.adapterCfg.R, m.adapterCfg.scale()
	if m.adapterCfg.targets(TargetAttnQKV) {
		for l := 0; l < L; l++ {
			mergeInto(m.Params.QueryKeyValW.data[l*3*C*C:], m.Adapters.QKVA.data[l*r*C:], m.Adapters.QKVB.data[l*3*C*r:], C, 3*C, r, scale)
			zero(m.Adapters.QKVB.data[l*3*C*r : (l+1)*3*C*r])
		}
	}
	if m.adapterCfg.targets(TargetAttnProj) {
		for l := 0; l < L; l++ {
			mergeInto(m.Params.AttProjW.data[l*C*C:], m.Adapters.ProjA.data[l*r*C:], m.Adapters.ProjB.data[l*C*r:], C, C, r, scale)
			zero(m.Adapters.ProjB.data[l*C*r : (l+1)*C*r])
		}
	}
}

// mergeInto accumulates w += scale * B@A for one (OC, C) projection.
func mergeInto(w, aw, bw []float32, C, OC, r int, scale float32) {
	for o := 0; o < OC; o++ {
		brow := bw[o*r:]
		wrow := w[o*C:]
		for i := 0; i < C; i++ {
			var val float64
			for j := 0; j < r; j++ {
				val += float64(brow[j]) * float64(aw[j*C+i])
			}
			wrow[i] += scale * float32(val)
		}
	}
}

func zero(s []float32) {
	for i := range s {
		s[i] = 0
	}
}

// SaveAdapter writes the adapter configuration and weights alone; this is the
// per-epoch checkpoint format, a snapshot of exactly the trainable state.
func (m *Model) SaveAdapter(path string) error {
	if !m.hasAdapters {
		return errors.New("no adapters to save")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	header := make([]int32, headerWords)
	header[0] = adapterMagic
	header[1] = adapterVersion
	header[2] = int32(m.adapterCfg.R)
	var mask int32
	if m.adapterCfg.targets(TargetAttnQKV) {
		mask |= 1
	}
	if m.adapterCfg.targets(TargetAttnProj) {
		mask |= 2
	}
	header[3] = mask
	header[4] = int32(m.Config.L)
	header[5] = int32(m.Config.C)
	header[6] = int32(math.Float32bits(m.adapterCfg.Alpha))
	header[7] = int32(math.Float32bits(m.adapterCfg.Dropout))
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, m.Adapters.Memory)
}

// LoadAdapter reads an adapter checkpoint and injects it into the model.
func (m *Model) LoadAdapter(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	header := make([]int32, headerWords)
	if err := binary.Read(f, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("reading adapter header: %w", err)
	}
	if header[0] != adapterMagic || header[1] != adapterVersion {
		return errors.New("bad adapter file format")
	}
	if int(header[4]) != m.Config.L || int(header[5]) != m.Config.C {
		return fmt.Errorf("adapter shape (L=%d, C=%d) does not match model (L=%d, C=%d)",
			header[4], header[5], m.Config.L, m.Config.C)
	}
	cfg := AdapterConfig{
		R:       int(header[2]),
		Alpha:   math.Float32frombits(uint32(header[6])),
		Dropout: math.Float32frombits(uint32(header[7])),
		Bias:    BiasNone,
	}
	if header[3]&1 != 0 {
		cfg.TargetModules = append(cfg.TargetModules, TargetAttnQKV)
	}
	if header[3]&2 != 0 {
		cfg.TargetModules = append(cfg.TargetModules, TargetAttnProj)
	}
	if err := m.InjectAdapters(cfg); err != nil {
		return err
	}
	return binary.Read(f, binary.LittleEndian, m.Adapters.Memory)
}
