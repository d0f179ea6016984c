package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/cbegin/touchfm-go"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

var logger = slog.Default()

// initLogger installs a text handler on stderr as the default logger.
func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

func main() {
	var (
		sampleRate  = flag.Int("sample-rate", 48000, "output sample rate")
		voices      = flag.Int("voices", 16, "voice pool size")
		polyphony   = flag.Int("poly", 16, "simultaneous voices (1 = mono)")
		legato      = flag.Bool("legato", false, "legato retrigger in mono mode")
		detuneName  = flag.String("detune", "proportional", "stereo detune: proportional|constant")
		detuneParam = flag.Float64("detune-amount", 1.002, "detune ratio (proportional) or Hz (constant)")
		presetPath  = flag.String("preset", "", "path to a JSON preset")
		volume      = flag.Float64("volume", 0.8, "master volume (0..2)")
		eqGains     = flag.String("eq", "1,1,1,1,1", "master EQ band gains, low to high (0..2)")
		midiName    = flag.String("midi", "", "MIDI input port name (substring); empty disables MIDI")
		listMIDI    = flag.Bool("list-midi", false, "list MIDI input ports and exit")
		keys        = flag.Bool("keys", true, "play from the terminal keyboard")
		debug       = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()
	initLogger(*debug)

	if *listMIDI {
		if err := printMIDIPorts(); err != nil {
			log.Fatal(err)
		}
		return
	}
	mode, err := parseDetuneMode(*detuneName)
	if err != nil {
		log.Fatal(err)
	}

	engine, err := touchfm.New(*sampleRate, touchfm.WithVoices(*voices), touchfm.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	engine.SetPolyphony(*polyphony)
	engine.SetLegatoMode(*legato)
	engine.SetDetuneMode(mode, *detuneParam)
	engine.SetMasterVolume(*volume)
	gains, err := parseGains(*eqGains)
	if err != nil {
		log.Fatal(err)
	}
	for band, g := range gains {
		engine.SetEQBand(band, g)
	}
	if *presetPath != "" {
		b, err := touchfm.LoadPresetFile(*presetPath)
		if err != nil {
			log.Fatal(err)
		}
		engine.LoadPreset(b, nil)
	}
	events := engine.Watch()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-events:
				logger.Debug("engine event", "kind", ev.Kind, "voice", ev.Voice, "key", ev.Key, "preset", ev.Preset)
			}
		}
	})
	if *midiName != "" {
		g.Go(func() error { return listenMIDI(ctx, engine, *midiName) })
	}
	if *keys && term.IsTerminal(int(os.Stdin.Fd())) {
		g.Go(func() error {
			err := playKeys(ctx, engine, *polyphony, *legato)
			cancel()
			return err
		})
	}
	logger.Info("touchfm running", "sample_rate", *sampleRate, "voices", *voices, "poly", *polyphony, "midi", *midiName)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func parseDetuneMode(name string) (touchfm.DetuneMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "proportional", "ratio":
		return touchfm.DetuneProportional, nil
	case "constant", "hz":
		return touchfm.DetuneConstant, nil
	default:
		return 0, fmt.Errorf("invalid -detune %q (expected proportional|constant)", name)
	}
}

func parseGains(s string) ([]float64, error) {
	fields := strings.Split(s, ",")
	if len(fields) > 5 {
		return nil, fmt.Errorf("invalid -eq %q (at most 5 bands)", s)
	}
	gains := make([]float64, 0, len(fields))
	for _, f := range fields {
		g, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid -eq gain %q: %w", f, err)
		}
		gains = append(gains, g)
	}
	return gains, nil
}

func printMIDIPorts() error {
	drv, err := rtmididrv.New()
	if err != nil {
		return fmt.Errorf("open MIDI driver: %w", err)
	}
	defer drv.Close()
	ins, err := drv.Ins()
	if err != nil {
		return fmt.Errorf("list MIDI inputs: %w", err)
	}
	for _, in := range ins {
		fmt.Println(in.String())
	}
	return nil
}

// listenMIDI forwards note and aftertouch messages from the first input port
// whose name contains name. Keys are MIDI note numbers.
func listenMIDI(ctx context.Context, engine *touchfm.Engine, name string) error {
	drv, err := rtmididrv.New()
	if err != nil {
		return fmt.Errorf("open MIDI driver: %w", err)
	}
	defer drv.Close()
	ins, err := drv.Ins()
	if err != nil {
		return fmt.Errorf("list MIDI inputs: %w", err)
	}
	var found drivers.In
	for _, in := range ins {
		if strings.Contains(in.String(), name) {
			found = in
			break
		}
	}
	if found == nil {
		return fmt.Errorf("MIDI input %q not found", name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("open MIDI port %q: %w", found.String(), err)
	}
	defer found.Close()

	held := make(map[uint8]bool)
	stopListen, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		var ch, key, vel, pressure uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			held[key] = true
			engine.NoteOn(touchfm.Key(key), touchfm.NoteFrequency(int(key)), float64(vel)/127)
		case msg.GetNoteEnd(&ch, &key):
			delete(held, key)
			engine.NoteOff(touchfm.Key(key))
		case msg.GetPolyAfterTouch(&ch, &key, &pressure):
			engine.TouchMoved(touchfm.Key(key), float64(pressure)/127)
		case msg.GetAfterTouch(&ch, &pressure):
			for k := range held {
				engine.TouchMoved(touchfm.Key(k), float64(pressure)/127)
			}
		default:
			logger.Debug("unhandled MIDI message", "msg", msg.String())
		}
	}, midi.HandleError(func(err error) {
		logger.Warn("MIDI listener error", "device", found.String(), "err", err)
	}))
	if err != nil {
		return fmt.Errorf("listen on %q: %w", found.String(), err)
	}
	logger.Info("MIDI input connected", "device", found.String())
	<-ctx.Done()
	stopListen()
	return nil
}

// keyNotes maps a QWERTY row to one octave and a bit starting at middle C.
var keyNotes = map[byte]int{
	'a': 60, 'w': 61, 's': 62, 'e': 63, 'd': 64, 'f': 65, 't': 66,
	'g': 67, 'y': 68, 'h': 69, 'u': 70, 'j': 71, 'k': 72, 'o': 73, 'l': 74,
}

// playKeys reads the terminal in raw mode. A terminal reports no key
// releases, so note keys latch: the first press starts the note and the
// second releases it. z/x shift octaves, m toggles mono, n toggles legato,
// space releases everything, q quits.
func playKeys(ctx context.Context, engine *touchfm.Engine, polyphony int, legato bool) error {
	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw terminal: %w", err)
	}
	defer term.Restore(fd, state)

	input, readErr := readKeys(ctx, os.Stdin)

	octave := 0
	latched := make(map[touchfm.Key]bool)
	releaseAll := func() {
		for k := range latched {
			engine.NoteOff(k)
			delete(latched, k)
		}
	}
	mono := polyphony == 1
	for {
		var c byte
		select {
		case <-ctx.Done():
			releaseAll()
			return nil
		case b, ok := <-input:
			if !ok {
				releaseAll()
				select {
				case err := <-readErr:
					return fmt.Errorf("read terminal: %w", err)
				default:
					return nil
				}
			}
			c = b
		}
		switch c {
		case 'q', 3: // 3 is Ctrl-C in raw mode
			releaseAll()
			return nil
		case ' ':
			releaseAll()
		case 'z':
			octave = max(octave-1, -3)
		case 'x':
			octave = min(octave+1, 3)
		case 'm':
			releaseAll()
			mono = !mono
			if mono {
				engine.SetPolyphony(1)
			} else {
				engine.SetPolyphony(max(polyphony, 2))
			}
		case 'n':
			legato = !legato
			engine.SetLegatoMode(legato)
		default:
			note, ok := keyNotes[c]
			if !ok {
				continue
			}
			note += 12 * octave
			k := touchfm.Key(note)
			if latched[k] {
				delete(latched, k)
				engine.NoteOff(k)
				continue
			}
			latched[k] = true
			engine.NoteOn(k, touchfm.NoteFrequency(note), 0.8)
		}
	}
}

// readKeys forwards single bytes from r. The returned channel is closed when
// r fails (the error is sent on the second channel first) or ctx is done.
func readKeys(ctx context.Context, r io.Reader) (<-chan byte, <-chan error) {
	input := make(chan byte, 16)
	readErr := make(chan error, 1)
	go func() {
		defer close(input)
		buf := make([]byte, 1)
		for {
			if _, err := r.Read(buf); err != nil {
				readErr <- err
				return
			}
			select {
			case input <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return input, readErr
}
