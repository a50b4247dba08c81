package anytrain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anykd/anyloss"
	"github.com/unixpickle/anykd/anyopt"
	"github.com/unixpickle/anyvec/anyvec64"
)

const testConfig = `{
    "database_path": "/data/LA",
    "database_logical_path": "/data/protocols",
    "asv_score_path": "ASVspoof2019_LA_asv_scores/ASVspoof2019.LA.asv.eval.gi.trl.scores.txt",
    "teachermodel_path": "/models/teacher.model",
    "track": "LA",
    "num_epochs": 100,
    "batch_size": 24,
    "loss": "scokdifloss",
    "model_config": {
        "nb_samp": 64600,
        "hidden": 32
    },
    "optim_config": {
        "optimizer": "adam",
        "amsgrad": "False",
        "base_lr": 0.0001,
        "lr_min": 0.000005,
        "betas": [0.9, 0.999],
        "weight_decay": 0.0001,
        "scheduler": "cosine"
    }
}`

func writeConfig(t *testing.T, name, data string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	conf, err := LoadConfig(writeConfig(t, "KD.conf", testConfig))
	require.NoError(t, err)

	require.Equal(t, "LA", conf.Track)
	require.Equal(t, 24, conf.BatchSize)
	require.Equal(t, anyloss.KindKDFocal, conf.Loss)
	require.True(t, conf.EvalAllBestEnabled())
	require.False(t, conf.FreqAugEnabled())
	require.Equal(t, 0.1, *conf.FocalAlpha)
	require.Equal(t, 1.0, *conf.FocalGamma)
	require.Equal(t, 0.5, *conf.KDBeta)
	require.Equal(t, 0.2, *conf.ObjectiveConfig().RFake)
	require.Equal(t, 32, conf.ModelConfig.Hidden)
	require.Equal(t, 512, conf.ModelConfig.FrameSize)

	opt := conf.OptimizerConfig()
	require.Equal(t, anyopt.NameAdam, opt.Optimizer)
	require.False(t, opt.AMSGrad)
	require.Equal(t, [2]float64{0.9, 0.999}, opt.Betas)
	require.Equal(t, 1e-4, opt.WeightDecay)

	require.Equal(t, "LA_KD_ep100_bs24", conf.RunName("config/KD.conf", ""))
	require.Equal(t, "LA_KD_ep100_bs24_try2", conf.RunName("config/KD.conf", "try2"))
}

func TestLoadConfigExplicitZeros(t *testing.T) {
	path := writeConfig(t, "z.conf", `{"track": "LA", "num_epochs": 1, "batch_size": 2,
  "loss": "scokdwcedoc", "focal_alpha": 0, "focal_gamma": 0, "kd_beta": 0, "r_fake": 0}`)
	conf, err := LoadConfig(path)
	require.NoError(t, err)

	obj := conf.ObjectiveConfig()
	require.Equal(t, 0.0, obj.FocalAlpha)
	require.Equal(t, 0.0, obj.FocalGamma)
	require.Equal(t, 0.0, obj.Beta)
	require.Equal(t, 0.0, *obj.RFake)
	require.Equal(t, 0.9, *obj.RReal)

	loss, err := anyloss.New(anyvec64.CurrentCreator(), obj, nil)
	require.NoError(t, err)
	kd := loss.(*anyloss.KDWCEDOC)
	require.Equal(t, 0.0, kd.Beta)
	require.Equal(t, 0.0, kd.DOC.RFake)
}

func TestLoadConfigNullScheduler(t *testing.T) {
	path := writeConfig(t, "c.conf", `{"track": "DF", "num_epochs": 1, "batch_size": 2,
  "freq_aug": "yes", "optim_config": {"scheduler": null}}`)
	conf, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "", conf.OptimConfig.Scheduler)
	require.True(t, conf.FreqAugEnabled())
}

func TestLoadConfigErrors(t *testing.T) {
	for name, data := range map[string]string{
		"track":     `{"track": "XX", "num_epochs": 1, "batch_size": 2}`,
		"epochs":    `{"track": "LA", "batch_size": 2}`,
		"loss":      `{"track": "LA", "num_epochs": 1, "batch_size": 2, "loss": "softmax"}`,
		"scheduler": `{"track": "LA", "num_epochs": 1, "batch_size": 2, "optim_config": {"scheduler": "step"}}`,
		"bool":      `{"track": "LA", "num_epochs": 1, "batch_size": 2, "eval_all_best": "maybe"}`,
		"betas":     `{"track": "LA", "num_epochs": 1, "batch_size": 2, "optim_config": {"betas": [0.9]}}`,
	} {
		_, err := LoadConfig(writeConfig(t, "c.conf", data))
		require.Error(t, err, name)
	}
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.conf"))
	require.Error(t, err)
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"y", "YES", "t", "True", "on", "1"} {
		b, err := ParseBool(s)
		require.NoError(t, err)
		require.True(t, b, s)
	}
	for _, s := range []string{"n", "No", "F", "false", "OFF", "0"} {
		b, err := ParseBool(s)
		require.NoError(t, err)
		require.False(t, b, s)
	}
	_, err := ParseBool("")
	require.Error(t, err)
}
