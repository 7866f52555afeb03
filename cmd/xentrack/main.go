// Command xentrack renders and plays xentrack songs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/tracker"
	"github.com/xentrack/xentrack/version"
)

var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "xentrack",
	Short: "Render and play microtonal tracker songs",
	Long: `xentrack renders songs written in any tuning, sample accurately and
deterministically, to audio files or to the sound card.

Examples:
  xentrack render song.yml -o out
  xentrack render song.yml --tracks --pcm16
  xentrack play song.yml --loop
  xentrack import-midi tune.mid -o tune.yml
  xentrack scala 19edo.scl`,
	Version:       version.VersionOrHash,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Long())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "engine config file (yaml)")
	rootCmd.AddCommand(renderCmd, playCmd, inspectCmd, importMIDICmd, scalaCmd, versionCmd)
}

// loadConfig returns the config file given with --config, or the defaults.
func loadConfig() (tracker.Config, error) {
	if configFile == "" {
		return tracker.DefaultConfig(), nil
	}
	return tracker.LoadConfig(configFile)
}

func readSong(path string) (*xentrack.Song, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open song: %w", err)
	}
	defer f.Close()
	song, err := xentrack.ReadSong(f)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}
	return song, nil
}
