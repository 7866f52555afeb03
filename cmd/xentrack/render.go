package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/spf13/cobra"
	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/tracker"
)

const defaultNameTemplate = "{{.Song | kebabcase}}{{if .Bus}}-{{.Bus | kebabcase}}{{end}}.wav"

var (
	outputDir    string
	nameTemplate string
	pcm16        bool
	multiTrack   bool
	samplesDir   string
	maxTail      float64
)

var renderCmd = &cobra.Command{
	Use:   "render <song.yml>",
	Short: "Render a song to wav files",
	Long: `Render a song offline, from the start to its end event and the tail
after it. The output is identical on every run.

The output file names are Go templates with the sprig functions; .Song is the
song title, .Bus the bus name (empty for the master mix) and .Index the bus
number (0 for the master mix).`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for the output files (default: the directory of the song)")
	renderCmd.Flags().StringVar(&nameTemplate, "name", defaultNameTemplate, "output file name template")
	renderCmd.Flags().BoolVar(&pcm16, "pcm16", false, "write 16-bit integer PCM instead of 32-bit float")
	renderCmd.Flags().BoolVar(&multiTrack, "tracks", false, "write every bus to its own file in addition to the master mix")
	renderCmd.Flags().StringVar(&samplesDir, "samples", "", "directory of mono float32 little-endian .raw sample files")
	renderCmd.Flags().Float64Var(&maxTail, "tail", 0, "seconds rendered after the song end at most (default: from config)")
}

type nameData struct {
	Song  string
	Bus   string
	Index int
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	song, err := readSong(args[0])
	if err != nil {
		return err
	}
	title := song.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}
	tmpl, err := template.New("name").Funcs(sprig.TxtFuncMap()).Parse(nameTemplate)
	if err != nil {
		return fmt.Errorf("invalid name template: %w", err)
	}
	var samples xentrack.SampleSet
	if samplesDir != "" {
		if samples, err = loadSamples(samplesDir, cfg.SampleRate); err != nil {
			return err
		}
	}
	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(args[0])
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("could not create output directory %v: %w", dir, err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := tracker.Export(ctx, song, samples, cfg, tracker.ExportOptions{MultiTrack: multiTrack, MaxTail: maxTail})
	if err != nil {
		return err
	}
	write := func(data nameData, audio xentrack.AudioBuffer) error {
		name, err := outputName(tmpl, data)
		if err != nil {
			return err
		}
		contents, err := xentrack.Wav(audio, res.SampleRate, pcm16)
		if err != nil {
			return fmt.Errorf("could not encode %v: %w", name, err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, contents, 0644); err != nil {
			return fmt.Errorf("could not write %v: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%v: %d frames, peak %.3f\n", path, len(audio), audio.Peak())
		return nil
	}
	if err := write(nameData{Song: title}, res.Master); err != nil {
		return err
	}
	for i, bus := range res.Buses {
		if err := write(nameData{Song: title, Bus: bus.Name, Index: i + 1}, bus.Audio); err != nil {
			return err
		}
	}
	return nil
}

// outputName executes the file name template. The result must be a plain
// file name.
func outputName(tmpl *template.Template, data nameData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("could not execute name template: %w", err)
	}
	name := strings.TrimSpace(buf.String())
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("name template produced an invalid file name %q", name)
	}
	return name, nil
}

// loadSamples reads every .raw file of dir as a one-shot mono sample named by
// the file name without the extension.
func loadSamples(dir string, sampleRate int) (xentrack.SampleSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read samples: %w", err)
	}
	ret := xentrack.SampleSet{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".raw" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("could not read sample: %w", err)
		}
		frames := make([]float32, len(data)/4)
		for i := range frames {
			frames[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		s := &xentrack.Sample{Rate: sampleRate, Channels: 1, Frames: frames, LoopStart: -1, BasePitch: xentrack.DefaultReference}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("sample %v: %w", e.Name(), err)
		}
		ret[strings.TrimSuffix(e.Name(), ".raw")] = s
	}
	return ret, nil
}
