package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/oto"
	"github.com/vsariola/tahti/sequencer"
	"github.com/vsariola/tahti/sequencer/gomidi"
	"github.com/vsariola/tahti/synth"
)

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")
var defaultMidiInput = flag.String("midi-input", "", "connect MIDI input to matching device name prefix")

func main() {
	flag.Parse()
	var f *os.File
	if *cpuprofile != "" {
		var err error
		f, err = os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
	}
	audioContext, err := oto.NewContext()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	recoveryFile := ""
	banksDir := ""
	if configDir, err := os.UserConfigDir(); err == nil {
		recoveryFile = filepath.Join(configDir, "Tahti", "tahti-track-recovery")
		banksDir = filepath.Join(configDir, "Tahti", "banks")
	}
	broker := sequencer.NewBroker()
	midiContext := gomidi.NewContext(broker)
	defer midiContext.Close()
	if isFlagPassed("midi-input") {
		midiContext.TryToOpenBy(*defaultMidiInput, false)
	}
	synthesizer := synth.NewSynth(nil)
	provider := synth.NewProvider(synthesizer)
	router := sequencer.NewRouter(broker)
	registry := sequencer.NewSourceRegistry(broker, router)
	registry.Provide(tahti.SourceInternal, provider)
	registry.Provide(tahti.SourceBank, provider)
	registry.Provide(tahti.SourcePort, midiContext)
	render := func(score tahti.Score, progress func(float32)) (tahti.AudioBuffer, error) {
		return synth.Render(score, nil, progress)
	}
	model := sequencer.NewModel(broker, registry, render, recoveryFile)
	synthID := model.RegisterSynth()
	for i := range model.Score().Tracks {
		model.BindTrack(i, synthID)
	}
	if banksDir != "" {
		model.ScanBanks(banksDir)
	}
	model.ScanPorts(midiContext)
	player := sequencer.NewPlayer(broker, router)
	go player.Run()
	audioCloser := audioContext.Play(synthesizer.Source())

	if a := flag.Args(); len(a) > 0 {
		f, err := os.Open(a[0])
		if err == nil {
			model.ReadScore(f)
		}
	}

	prog := tea.NewProgram(newUI(model, midiContext), tea.WithAltScreen())
	if _, err := prog.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	model.Close()
	audioCloser.Close()
	audioContext.Close()
	if *cpuprofile != "" {
		pprof.StopCPUProfile()
		f.Close()
	}
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		defer f.Close() // error handling omitted for example
		runtime.GC()    // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
