package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anykd/anytrain"
)

func TestRenderHistory(t *testing.T) {
	state := anytrain.NewState()
	state.RecordSWAUpdate()
	out := renderHistory(&anytrain.Summary{
		History: []*anytrain.Metrics{
			{Epoch: 0, Loss: 0.25, DevEER: 3.5, DevTDCF: 0.1, Snapshot: true, Evaluated: true,
				EvalEER: 4, EvalTDCF: 0.2},
			{Epoch: 1, Loss: 0.125, DevEER: 4.5, DevTDCF: 0.12},
		},
		State:     state,
		FinalEER:  3.75,
		FinalTDCF: 0.15,
	})
	require.Contains(t, out, "0.25000")
	require.Contains(t, out, "3.500")
	require.Contains(t, out, "4.0000")
	require.Contains(t, out, "3.7500")
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand(zerolog.Nop())
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["train"] && names["eval"] && names["eval2021"])
	for _, flag := range []string{"config", "output_dir", "seed", "comment", "lr", "lr_decay",
		"interval"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
	require.Equal(t, "688", cmd.PersistentFlags().Lookup("seed").DefValue)
}
