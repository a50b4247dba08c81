package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/unixpickle/anykd/anytrain"
)

type options struct {
	Config    string
	OutputDir string
	Seed      int64
	Comment   string

	LR       float64
	LRDecay  float64
	Interval int

	ModelWeights string
	LossModel    string
	Quiet        bool
}

func newRootCommand(logger zerolog.Logger) *cobra.Command {
	opts := &options{}
	defaults := anytrain.DefaultLossSchedule()

	rootCmd := &cobra.Command{
		Use:           "anykd",
		Short:         "ASVspoof detection with knowledge distillation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.Config, "config", "./config/AASIST.conf", "configuration file")
	flags.StringVar(&opts.OutputDir, "output_dir", "./exp_result", "output directory for results")
	flags.Int64Var(&opts.Seed, "seed", 688, "random seed")
	flags.StringVar(&opts.Comment, "comment", "", "comment to describe the saved model")
	flags.Float64Var(&opts.LR, "lr", defaults.LR, "learning rate of the loss model")
	flags.Float64Var(&opts.LRDecay, "lr_decay", defaults.Decay, "decay of the loss model learning rate")
	flags.IntVar(&opts.Interval, "interval", defaults.Interval, "epochs between loss model decays")
	flags.StringVar(&opts.ModelWeights, "eval_model_weights", "",
		"model file to evaluate (overrides model_path)")
	flags.StringVar(&opts.LossModel, "loss_model", "", "loss model file used for scoring")
	flags.BoolVar(&opts.Quiet, "quiet", false, "disable progress bars")

	rootCmd.AddCommand(newTrainCommand(opts, logger))
	rootCmd.AddCommand(newEvalCommand(opts, logger))
	rootCmd.AddCommand(newEval2021Command(opts, logger))
	return rootCmd
}

func newTrainCommand(opts *options, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train a student model and its weight average",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := opts.orchestrator(logger)
			if err != nil {
				return err
			}
			summary, err := o.Train(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(summary))
			fmt.Fprintf(cmd.OutOrStdout(), "best EER: %.3f, min t-DCF: %.5f\n",
				summary.FinalEER, summary.FinalTDCF)
			return nil
		},
	}
}

func newEvalCommand(opts *options, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a saved model on the 2019 evaluation set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := opts.orchestrator(logger)
			if err != nil {
				return err
			}
			eer, tdcf, err := o.Eval(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "eval_eer:%v\neval_tdcf:%v\n", eer, tdcf)
			return nil
		},
	}
}

func newEval2021Command(opts *options, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "eval2021",
		Short: "Write scores of a saved model for the 2021 trials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := opts.orchestrator(logger)
			if err != nil {
				return err
			}
			path, err := o.Eval2021(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scores saved to %s\n", path)
			return nil
		},
	}
}

func (o *options) orchestrator(logger zerolog.Logger) (*anytrain.Orchestrator, error) {
	conf, err := anytrain.LoadConfig(o.Config)
	if err != nil {
		return nil, err
	}
	var progress io.Writer = os.Stderr
	if o.Quiet {
		progress = nil
	}
	return &anytrain.Orchestrator{
		Config:     conf,
		ConfigPath: o.Config,
		OutputDir:  o.OutputDir,
		Comment:    o.Comment,
		Seed:       o.Seed,
		LossSchedule: anytrain.LossSchedule{
			LR:       o.LR,
			Decay:    o.LRDecay,
			Interval: o.Interval,
		},
		ModelPath:     o.ModelWeights,
		LossModelPath: o.LossModel,
		Progress:      progress,
		Log:           logger,
	}, nil
}
