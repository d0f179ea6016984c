package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cbegin/touchfm-go"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		output     = flag.String("out", "touchfm.wav", "output WAV path")
		presetPath = flag.String("preset", "", "path to a JSON preset")
		notesArg   = flag.String("notes", "57,60,64,67", "comma-separated MIDI notes")
		stagger    = flag.Duration("stagger", 0, "delay between note starts (arpeggio)")
		hold       = flag.Duration("hold", time.Second, "how long each note is held")
		tail       = flag.Duration("tail", 1500*time.Millisecond, "render time after the last release")
		touch      = flag.Float64("touch", 0.8, "touch amount for every note (0..1)")
		polyphony  = flag.Int("poly", 16, "simultaneous voices (1 = mono)")
		legato     = flag.Bool("legato", false, "legato retrigger in mono mode")
		volume     = flag.Float64("volume", 0.8, "master volume (0..2)")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	notes, err := parseNotes(*notesArg)
	if err != nil {
		log.Fatal(err)
	}
	var script []touchfm.ScriptEvent
	// A preset load fades out and resets first; start the notes after it.
	start := time.Duration(0)
	if *presetPath != "" {
		b, err := touchfm.LoadPresetFile(*presetPath)
		if err != nil {
			log.Fatal(err)
		}
		script = append(script, touchfm.ScriptEvent{Action: touchfm.ActionLoadPreset, Preset: b})
		start = 250 * time.Millisecond
	}
	script = append(script,
		touchfm.ScriptEvent{Action: touchfm.ActionPolyphony, Voices: *polyphony},
		touchfm.ScriptEvent{Action: touchfm.ActionLegato, On: *legato},
		touchfm.ScriptEvent{Action: touchfm.ActionVolume, Param: *volume},
	)
	var end time.Duration
	for i, n := range notes {
		on := start + time.Duration(i)*(*stagger)
		off := on + *hold
		script = append(script,
			touchfm.ScriptEvent{At: on, Action: touchfm.ActionNoteOn, Key: touchfm.Key(n), Freq: touchfm.NoteFrequency(n), Touch: *touch},
			touchfm.ScriptEvent{At: off, Action: touchfm.ActionNoteOff, Key: touchfm.Key(n)},
		)
		end = max(end, off)
	}
	length := end + *tail

	samples, err := touchfm.RenderScript(*sampleRate, script, length, touchfm.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	if err := touchfm.SaveWAV(*output, samples, *sampleRate); err != nil {
		log.Fatalf("write %s: %v", *output, err)
	}
	logger.Info("rendered", "path", *output, "frames", len(samples)/2, "length", length)
}

func parseNotes(s string) ([]int, error) {
	var notes []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || n > 127 {
			return nil, fmt.Errorf("invalid note %q (expected 0..127)", f)
		}
		notes = append(notes, n)
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("no notes in %q", s)
	}
	return notes, nil
}
