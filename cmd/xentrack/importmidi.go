package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/tracker/gomidi"
)

var (
	importOutput    string
	importReference int
)

var importMIDICmd = &cobra.Command{
	Use:   "import-midi <file.mid>",
	Short: "Convert a Standard MIDI File to a song",
	Long: `Convert a Standard MIDI File to a song with one track per MIDI channel.
Note numbers are converted to degrees relative to the reference note, so the
song can be played in any tuning.`,
	Args: cobra.ExactArgs(1),
	RunE: runImportMIDI,
}

func init() {
	importMIDICmd.Flags().StringVarP(&importOutput, "output", "o", "", "output song file (default: the input with .yml extension)")
	importMIDICmd.Flags().IntVar(&importReference, "reference", gomidi.DefaultReference, "MIDI note that becomes degree 0")
}

func runImportMIDI(cmd *cobra.Command, args []string) error {
	input := args[0]
	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("could not open MIDI file: %w", err)
	}
	defer f.Close()
	base := strings.TrimSuffix(input, filepath.Ext(input))
	song, err := gomidi.ImportSMF(f, gomidi.ImportOptions{Title: filepath.Base(base), Reference: importReference})
	if err != nil {
		return fmt.Errorf("could not import %s: %w", input, err)
	}
	output := importOutput
	if output == "" {
		output = base + ".yml"
	}
	var buf bytes.Buffer
	if err := xentrack.WriteSong(&buf, song); err != nil {
		return err
	}
	if err := os.WriteFile(output, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("could not write %v: %w", output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%v: %d tracks\n", output, len(song.Score.Tracks))
	return nil
}
