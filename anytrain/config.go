// Package anytrain runs the training loop of a distilled
// spoofing detector, from the experiment configuration to
// the final averaged checkpoints.
package anytrain

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/unixpickle/anykd"
	"github.com/unixpickle/anykd/anyloss"
	"github.com/unixpickle/anykd/anyopt"
	"github.com/unixpickle/essentials"
	"gopkg.in/yaml.v3"
)

// Tracks lists the valid values of Config.Track.
var Tracks = []string{"LA", "PA", "DF"}

// ModelConfig configures the student and teacher
// architecture.
type ModelConfig struct {
	NumSamples int `yaml:"nb_samp"`
	FrameSize  int `yaml:"frame_size"`
	Hop        int `yaml:"hop"`
	Hidden     int `yaml:"hidden"`
	MaskWidth  int `yaml:"mask_width"`
}

// OptimConfig configures the model optimizer and its
// learning rate schedule.
type OptimConfig struct {
	Optimizer   string    `yaml:"optimizer"`
	AMSGrad     string    `yaml:"amsgrad"`
	BaseLR      float64   `yaml:"base_lr"`
	MinLR       float64   `yaml:"lr_min"`
	Betas       []float64 `yaml:"betas"`
	WeightDecay float64   `yaml:"weight_decay"`
	Momentum    float64   `yaml:"momentum"`
	Scheduler   string    `yaml:"scheduler"`
}

// Config is an experiment configuration.
//
// Boolean options are stored as strings, as accepted by
// ParseBool.
type Config struct {
	DatabasePath         string `yaml:"database_path"`
	DatabaseLogicalPath  string `yaml:"database_logical_path"`
	ASVScorePath         string `yaml:"asv_score_path"`
	ModelPath            string `yaml:"model_path"`
	TeacherModelPath     string `yaml:"teachermodel_path"`
	EvalOutput           string `yaml:"eval_output"`
	Eval2021DatabasePath string `yaml:"eval_2021_database_path"`

	Track     string `yaml:"track"`
	NumEpochs int    `yaml:"num_epochs"`
	BatchSize int    `yaml:"batch_size"`

	Loss   string `yaml:"loss"`
	EncDim int    `yaml:"enc_dim"`

	// Loss hyperparameters are nil when absent, so that an
	// explicit zero is kept by SetDefaults.
	RReal      *float64 `yaml:"r_real"`
	RFake      *float64 `yaml:"r_fake"`
	Alpha      *float64 `yaml:"alpha"`
	FocalAlpha *float64 `yaml:"focal_alpha"`
	FocalGamma *float64 `yaml:"focal_gamma"`
	KDBeta     *float64 `yaml:"kd_beta"`

	EvalAllBest string `yaml:"eval_all_best"`
	FreqAug     string `yaml:"freq_aug"`

	Device   string `yaml:"device"`
	Prefetch int    `yaml:"prefetch"`
	Workers  int    `yaml:"workers"`

	ModelConfig ModelConfig `yaml:"model_config"`
	OptimConfig OptimConfig `yaml:"optim_config"`
}

// LoadConfig reads a configuration file, fills in the
// defaults and validates the result.
//
// JSON configuration files are supported, since JSON is
// a subset of YAML.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, essentials.AddCtx("load config", err)
	}
	defer f.Close()
	var conf Config
	if err := yaml.NewDecoder(f).Decode(&conf); err != nil {
		return nil, essentials.AddCtx("load config "+path, err)
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, essentials.AddCtx("load config "+path, err)
	}
	return &conf, nil
}

// SetDefaults fills in unset options.
func (c *Config) SetDefaults() {
	setString(&c.EvalAllBest, "True")
	setString(&c.FreqAug, "False")
	setString(&c.EvalOutput, "eval_scores_using_best_dev_model.txt")
	setString(&c.Loss, anyloss.KindKDFocal)
	setOptional(&c.FocalAlpha, 0.1)
	setOptional(&c.FocalGamma, 1)
	setOptional(&c.KDBeta, 0.5)
	setOptional(&c.RReal, 0.9)
	setOptional(&c.RFake, 0.2)
	setOptional(&c.Alpha, 20)
	setInt(&c.EncDim, 32)

	m := &c.ModelConfig
	setInt(&m.NumSamples, 64600)
	setInt(&m.FrameSize, 512)
	setInt(&m.Hop, 160)
	setInt(&m.Hidden, 64)

	o := &c.OptimConfig
	setString(&o.Optimizer, anyopt.NameAdam)
	setString(&o.AMSGrad, "False")
	setFloat(&o.BaseLR, 1e-4)
	if len(o.Betas) == 0 {
		o.Betas = []float64{0.9, 0.999}
	}
	if o.Scheduler == "null" {
		o.Scheduler = ""
	}
}

// Validate checks the options which can be checked before
// any data is loaded.
func (c *Config) Validate() error {
	if !slices.Contains(Tracks, c.Track) {
		return fmt.Errorf("invalid track given: %q", c.Track)
	}
	if c.NumEpochs <= 0 {
		return fmt.Errorf("invalid num_epochs: %d", c.NumEpochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d", c.BatchSize)
	}
	switch c.Loss {
	case anyloss.KindKDFocal, anyloss.KindKDWCEDOC, anyloss.KindOCSoftmax,
		anyloss.KindWeightedCE:
	default:
		return fmt.Errorf("unknown loss: %s", c.Loss)
	}
	switch c.OptimConfig.Scheduler {
	case "", anyopt.ScheduleCosine, anyopt.ScheduleKerasDecay:
	default:
		return fmt.Errorf("scheduler error, got: %s", c.OptimConfig.Scheduler)
	}
	if len(c.OptimConfig.Betas) != 2 {
		return fmt.Errorf("expected 2 betas but got %d", len(c.OptimConfig.Betas))
	}
	for name, value := range map[string]string{
		"eval_all_best": c.EvalAllBest,
		"freq_aug":      c.FreqAug,
		"amsgrad":       c.OptimConfig.AMSGrad,
	} {
		if _, err := ParseBool(value); err != nil {
			return essentials.AddCtx(name, err)
		}
	}
	return nil
}

// EvalAllBestEnabled reports whether every new best model
// should be evaluated on the evaluation set.
func (c *Config) EvalAllBestEnabled() bool {
	b, _ := ParseBool(c.EvalAllBest)
	return b
}

// FreqAugEnabled reports whether frequency masking is
// used during training.
func (c *Config) FreqAugEnabled() bool {
	b, _ := ParseBool(c.FreqAug)
	return b
}

// DetectorConfig returns the architecture of the models.
func (c *Config) DetectorConfig() *anykd.DetectorConfig {
	return &anykd.DetectorConfig{
		NumSamples: c.ModelConfig.NumSamples,
		FrameSize:  c.ModelConfig.FrameSize,
		Hop:        c.ModelConfig.Hop,
		Hidden:     c.ModelConfig.Hidden,
		EncDim:     c.EncDim,
		MaskWidth:  c.ModelConfig.MaskWidth,
	}
}

// ObjectiveConfig returns the configuration of the loss.
//
// It should be called after SetDefaults.
func (c *Config) ObjectiveConfig() *anyloss.Config {
	return &anyloss.Config{
		Kind:       c.Loss,
		EncDim:     c.EncDim,
		RReal:      c.RReal,
		RFake:      c.RFake,
		Alpha:      c.Alpha,
		FocalAlpha: *c.FocalAlpha,
		FocalGamma: *c.FocalGamma,
		Beta:       *c.KDBeta,
	}
}

// OptimizerConfig returns the configuration of the model
// optimizer.
func (c *Config) OptimizerConfig() *anyopt.Config {
	amsgrad, _ := ParseBool(c.OptimConfig.AMSGrad)
	return &anyopt.Config{
		Optimizer:   c.OptimConfig.Optimizer,
		BaseLR:      c.OptimConfig.BaseLR,
		Betas:       [2]float64{c.OptimConfig.Betas[0], c.OptimConfig.Betas[1]},
		WeightDecay: c.OptimConfig.WeightDecay,
		AMSGrad:     amsgrad,
		Momentum:    c.OptimConfig.Momentum,
	}
}

// RunName returns the directory name of a training run,
// "{track}_{config name}_ep{epochs}_bs{batch}" with an
// optional "_{comment}" suffix.
func (c *Config) RunName(configPath, comment string) string {
	base := filepath.Base(configPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name := fmt.Sprintf("%s_%s_ep%d_bs%d", c.Track, base, c.NumEpochs, c.BatchSize)
	if comment != "" {
		name += "_" + comment
	}
	return name
}

// ParseBool parses a boolean option.
//
// True values are y, yes, t, true, on and 1; false values
// are n, no, f, false, off and 0. Case is ignored.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "y", "yes", "t", "true", "on", "1":
		return true, nil
	case "n", "no", "f", "false", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid truth value %q", s)
}

func setString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func setFloat(f *float64, def float64) {
	if *f == 0 {
		*f = def
	}
}

func setOptional(f **float64, def float64) {
	if *f == nil {
		*f = &def
	}
}

func setInt(i *int, def int) {
	if *i == 0 {
		*i = def
	}
}
