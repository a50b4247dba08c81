package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/unixpickle/anykd/anytrain"
)

func renderHistory(s *anytrain.Summary) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Epoch", "Loss", "Dev EER", "Dev t-DCF", "SWA", "Eval EER",
		"Eval t-DCF"})
	for _, m := range s.History {
		evalEER, evalTDCF := "", ""
		if m.Evaluated {
			evalEER = fmt.Sprintf("%.4f", m.EvalEER)
			evalTDCF = fmt.Sprintf("%.4f", m.EvalTDCF)
		}
		swa := ""
		if m.Snapshot {
			swa = "yes"
		}
		tw.AppendRow(table.Row{
			m.Epoch,
			fmt.Sprintf("%.5f", m.Loss),
			fmt.Sprintf("%.3f", m.DevEER),
			fmt.Sprintf("%.5f", m.DevTDCF),
			swa,
			evalEER,
			evalTDCF,
		})
	}
	tw.AppendFooter(table.Row{"final", "", "", "", s.State.SWAUpdates,
		fmt.Sprintf("%.4f", s.FinalEER), fmt.Sprintf("%.4f", s.FinalTDCF)})

	configs := make([]table.ColumnConfig, 7)
	for i := range configs {
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignRight,
			AlignHeader: text.AlignLeft}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
