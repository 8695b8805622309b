// Package main is the entry point for the tahti CLI
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vsariola/tahti/sequencer"
	"github.com/vsariola/tahti/sequencer/gomidi"
	"github.com/vsariola/tahti/synth"
	"github.com/vsariola/tahti/version"
)

var (
	outputFile string
	bankFile   string
	pcm16      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tahti",
	Short: "Convert, render and inspect tahti scores",
	Long: `tahti is a command line companion to tahti-track for working with
score files outside the tracker.

Scores are stored as .yml, .json or standard MIDI .mid files and are
converted between the formats based on file extensions.

Examples:
  tahti convert score.yml -o score.mid
  tahti convert take.mid -o take.json
  tahti render score.yml -o score.wav
  tahti render score.yml -b strings.yml -c
  tahti ports`,
	Version: version.VersionOrHash,
}

var convertCmd = &cobra.Command{
	Use:   "convert <input>",
	Short: "Convert a score between .yml, .json and .mid",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

var renderCmd = &cobra.Command{
	Use:   "render <input>",
	Short: "Render a score to a .wav file with the internal synthesizer",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the available MIDI input and output ports",
	RunE:  runPorts,
}

func init() {
	convertCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (required)")
	_ = convertCmd.MarkFlagRequired("output")

	renderCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .wav file path")
	renderCmd.Flags().StringVarP(&bankFile, "bank", "b", "", "Bank file used for rendering")
	renderCmd.Flags().BoolVarP(&pcm16, "pcm", "c", false, "Convert audio to 16-bit signed PCM")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(portsCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	input := args[0]
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	score, err := sequencer.ParseScore(data)
	if err != nil {
		return err
	}
	out, err := sequencer.MarshalScore(score, filepath.Ext(outputFile))
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputFile, out, 0644); err != nil {
		return err
	}
	fmt.Printf("Converted %s -> %s\n", input, outputFile)
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := outputFile
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + ".wav"
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	score, err := sequencer.ParseScore(data)
	if err != nil {
		return err
	}
	var bank *synth.Bank
	if bankFile != "" {
		bank, err = synth.LoadBank(bankFile)
		if err != nil {
			return err
		}
	}
	buffer, err := synth.Render(score, bank, nil)
	if err != nil {
		return err
	}
	wav, err := buffer.Wav(pcm16)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, wav, 0644); err != nil {
		return err
	}
	fmt.Printf("Rendered %s -> %s\n", input, output)
	return nil
}

func runPorts(cmd *cobra.Command, args []string) error {
	ctx := gomidi.NewContext(sequencer.NewBroker())
	defer ctx.Close()
	if ctx.Support() != sequencer.MIDISupported {
		return fmt.Errorf("no MIDI driver available")
	}
	fmt.Println("MIDI inputs:")
	ctx.Inputs(func(in sequencer.MIDIInputDevice) bool {
		fmt.Printf("  %s\n", in)
		return true
	})
	fmt.Println("MIDI outputs:")
	ctx.OutputPorts(func(port string) bool {
		fmt.Printf("  %s\n", port)
		return true
	})
	return nil
}
