package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/tracker"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <song.yml>",
	Short: "Print the instruments, buses and length of a song",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		song, err := readSong(args[0])
		if err != nil {
			return err
		}
		sched, err := tracker.Compile(song, nil, cfg)
		if err != nil {
			return err
		}
		return inspect(cmd.OutOrStdout(), song, sched)
	},
}

func inspect(w io.Writer, song *xentrack.Song, sched *tracker.Schedule) error {
	title := cases.Title(language.English)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Song:\t%s\n", song.Title)
	fmt.Fprintf(tw, "Tempo:\t%v bpm\n", sched.Tempo)
	fmt.Fprintf(tw, "Tuning:\t%v\n", sched.Tuning)
	if length, ok := sched.End(); ok {
		fmt.Fprintf(tw, "Length:\t%v beats\n", length)
	}
	if sched.HasEnd {
		fmt.Fprintf(tw, "Ends:\tyes\n")
	} else {
		fmt.Fprintf(tw, "Ends:\tno, cannot be rendered\n")
	}
	fmt.Fprintf(tw, "Events:\t%d\n", len(sched.Events))
	for i, instr := range song.Instruments {
		fmt.Fprintf(tw, "\nInstrument %d:\t%s\n", i, instr.Name)
		fmt.Fprintf(tw, "  Play mode:\t%v, polyphony %d\n", instr.PlayMode, instr.Polyphony)
		for _, n := range instr.Nodes {
			kind := title.String(n.Type)
			if n.Waveform != "" {
				kind += " (" + n.Waveform + ")"
			}
			if n.Disabled {
				kind += ", disabled"
			}
			fmt.Fprintf(tw, "  %s:\t%s\n", n.ID, kind)
		}
		fmt.Fprintf(tw, "  Render order:\t%s\n", strings.Join(sched.Programs[i].Order(), " → "))
	}
	for i, b := range song.Buses {
		fmt.Fprintf(tw, "\nBus %d:\t%s\n", i+1, b.Name)
		for _, e := range b.Effects {
			fmt.Fprintf(tw, "  %s\t%v\n", title.String(e.Type), e.Params)
		}
	}
	return tw.Flush()
}
