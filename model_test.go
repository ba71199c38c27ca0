package shelltune

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelSaveLoad(t *testing.T) {
	model := NewModel(testModelConfig(), testVocab())
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, model.Save(path))

	loaded, err := LoadBaseModel(path, "")
	require.NoError(t, err)
	assert.Equal(t, model.Config.MaxSeqLen, loaded.Config.MaxSeqLen)
	assert.Equal(t, model.Config.V, loaded.Config.V)
	assert.Equal(t, model.Config.L, loaded.Config.L)
	assert.Equal(t, model.Config.NH, loaded.Config.NH)
	assert.Equal(t, model.Config.C, loaded.Config.C)
	assert.Equal(t, model.Params.Memory, loaded.Params.Memory)
}

func TestLoadBaseModelBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tok.bin")
	tok := newTokenizer(testVocab(), 5)
	require.NoError(t, tok.Save(path))

	// A tokenizer file has the wrong magic for a model checkpoint.
	_, err := LoadBaseModel(path, "")
	assert.Error(t, err)
}

func TestAdapterSaveLoadRoundTrip(t *testing.T) {
	cfg := testModelConfig()
	model := NewModel(cfg, testVocab())
	adapterCfg := AdapterConfig{
		R:             4,
		Alpha:         8,
		Dropout:       0.1,
		TargetModules: []string{TargetAttnQKV, TargetAttnProj},
		Bias:          BiasNone,
	}
	require.NoError(t, model.InjectAdapters(adapterCfg))
	path := filepath.Join(t.TempDir(), "adapter.bin")
	require.NoError(t, model.SaveAdapter(path))

	fresh := NewModel(cfg, testVocab())
	require.NoError(t, fresh.LoadAdapter(path))

	got := fresh.AdapterConfig()
	assert.Equal(t, adapterCfg.R, got.R)
	assert.Equal(t, adapterCfg.Alpha, got.Alpha)
	assert.Equal(t, adapterCfg.Dropout, got.Dropout)
	assert.ElementsMatch(t, adapterCfg.TargetModules, got.TargetModules)
	assert.Equal(t, model.Adapters.Memory, fresh.Adapters.Memory)
}

func TestAdapterSaveLoadSingleTarget(t *testing.T) {
	cfg := testModelConfig()
	model := NewModel(cfg, testVocab())
	adapterCfg := DefaultAdapterConfig()
	adapterCfg.Dropout = 0
	adapterCfg.TargetModules = []string{TargetAttnProj}
	require.NoError(t, model.InjectAdapters(adapterCfg))
	path := filepath.Join(t.TempDir(), "adapter.bin")
	require.NoError(t, model.SaveAdapter(path))

	fresh := NewModel(cfg, testVocab())
	require.NoError(t, fresh.LoadAdapter(path))
	assert.Equal(t, []string{TargetAttnProj}, fresh.AdapterConfig().TargetModules)
	assert.Equal(t, model.Adapters.Memory, fresh.Adapters.Memory)
}

func TestLoadAdapterShapeMismatch(t *testing.T) {
	model := NewModel(testModelConfig(), testVocab())
	require.NoError(t, model.InjectAdapters(DefaultAdapterConfig()))
	path := filepath.Join(t.TempDir(), "adapter.bin")
	require.NoError(t, model.SaveAdapter(path))

	other := NewModel(ModelConfig{MaxSeqLen: 8, V: 6, L: 1, NH: 2, C: 4}, testVocab())
	assert.Error(t, other.LoadAdapter(path))
}

func TestSaveAdapterWithoutAdapters(t *testing.T) {
	model := NewModel(testModelConfig(), testVocab())
	assert.Error(t, model.SaveAdapter(filepath.Join(t.TempDir(), "adapter.bin")))
}

func TestModelTrainingSmoke(t *testing.T) {
	// A handful of optimization steps on a repeating sequence should reduce
	// the loss: the adapters are the only thing learning here.
	model := NewModel(testModelConfig(), testVocab())
	adapterCfg := DefaultAdapterConfig()
	adapterCfg.Dropout = 0
	require.NoError(t, model.InjectAdapters(adapterCfg))

	input := []int32{0, 1, 2, 3}
	target := []int32{1, 2, 3, 0}
	model.SetTraining(true)

	model.Forward(input, target, 1, 4)
	firstLoss := model.MeanLoss
	require.NoError(t, model.Backward())
	require.NoError(t, model.Update(1e-2, adamBeta1, adamBeta2, adamEpsilon, 0, 1))
	model.ZeroGradient()

	for step := 2; step <= 50; step++ {
		model.Forward(input, target, 1, 4)
		require.NoError(t, model.Backward())
		require.NoError(t, model.Update(1e-2, adamBeta1, adamBeta2, adamEpsilon, 0, step))
		model.ZeroGradient()
	}
	model.Forward(input, target, 1, 4)
	assert.Less(t, model.MeanLoss, firstLoss)
}

func TestForwardWithoutTargets(t *testing.T) {
	model := NewModel(testModelConfig(), testVocab())
	model.Forward([]int32{0, 1}, nil, 1, 2)
	assert.Equal(t, float32(-1.0), model.MeanLoss)

	// Backward without a loss must be rejected.
	require.NoError(t, model.InjectAdapters(DefaultAdapterConfig()))
	model.Forward([]int32{0, 1}, nil, 1, 2)
	assert.Error(t, model.Backward())
}

func TestModelString(t *testing.T) {
	model := NewModel(testModelConfig(), testVocab())
	s := model.String()
	assert.Contains(t, s, "vocab_size: 6")
	assert.Contains(t, s, "num_layers: 2")
	assert.NotContains(t, s, "num_adapter_parameters")

	require.NoError(t, model.InjectAdapters(DefaultAdapterConfig()))
	assert.Contains(t, model.String(), "num_adapter_parameters")
}
