package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cbegin/touchfm-go"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

const (
	windowW      = 1100
	windowH      = 420
	uiSampleRate = 48000

	firstNote  = 48
	numOctaves = 3
	headerH    = 120
	scopeLen   = 1024
)

var (
	bgColor       = color.RGBA{192, 192, 192, 255}
	whiteKey      = color.RGBA{240, 240, 236, 255}
	blackKey      = color.RGBA{24, 24, 32, 255}
	pressedColor  = color.RGBA{0, 0, 128, 255}
	borderColor   = color.RGBA{128, 128, 128, 255}
	sunkenBgColor = color.RGBA{24, 24, 32, 255}
	scopeColor    = color.RGBA{120, 220, 140, 255}
)

// isBlack reports whether a note is a black key.
func isBlack(note int) bool {
	switch note % 12 {
	case 1, 3, 6, 8, 10:
		return true
	}
	return false
}

// scope keeps the most recent mono samples for drawing.
type scope struct {
	mu   sync.Mutex
	ring [scopeLen]float32
	pos  int
}

// Tap is called from the audio thread. Keep it minimal: just copy into ring.
func (s *scope) Tap(samples []float32) {
	s.mu.Lock()
	for i := 0; i+1 < len(samples); i += 2 {
		s.ring[s.pos] = (samples[i] + samples[i+1]) * 0.5
		s.pos = (s.pos + 1) % scopeLen
	}
	s.mu.Unlock()
}

func (s *scope) Snapshot() []float32 {
	out := make([]float32, scopeLen)
	s.mu.Lock()
	for i := range out {
		out[i] = s.ring[(s.pos+i)%scopeLen]
	}
	s.mu.Unlock()
	return out
}

// pointer is one finger or the mouse. Each pointer is its own key so two
// fingers on the same note are tracked separately.
type pointer struct {
	key  touchfm.Key
	note int
}

type game struct {
	engine *touchfm.Engine
	events <-chan touchfm.Event
	scope  *scope

	presets    []touchfm.Bundle
	presetIdx  int
	polyphony  int
	legato     bool
	volume     float64
	detuneMode touchfm.DetuneMode

	pointers map[int]pointer // touch ID, or -1 for the mouse
	nextKey  touchfm.Key
	status   string
	viewW    int
	viewH    int
}

func newGame(presets []touchfm.Bundle) (*game, error) {
	sc := &scope{}
	engine, err := touchfm.New(uiSampleRate, touchfm.WithSampleTap(sc.Tap))
	if err != nil {
		return nil, err
	}
	if err := engine.Start(); err != nil {
		return nil, err
	}
	g := &game{
		engine:    engine,
		events:    engine.Watch(),
		scope:     sc,
		presets:   presets,
		polyphony: 16,
		volume:    engine.MasterVolume(),
		pointers:  make(map[int]pointer),
		nextKey:   1,
		status:    "Ready",
		viewW:     windowW,
		viewH:     windowH,
	}
	return g, nil
}

func (g *game) Close() { _ = g.engine.Stop() }

func (g *game) Update() error {
	g.pollEvents()
	g.handleKeys()
	g.handleTouches()
	g.handleMouse()
	return nil
}

func (g *game) pollEvents() {
	for {
		select {
		case ev := <-g.events:
			switch ev.Kind {
			case touchfm.EventPresetApplied:
				g.status = "Preset applied: " + ev.Preset
			case touchfm.EventVoiceStolen:
				g.status = fmt.Sprintf("Voice %d stolen", ev.Voice)
			}
		default:
			return
		}
	}
}

func (g *game) handleKeys() {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyM):
		if g.polyphony == 1 {
			g.polyphony = 16
		} else {
			g.polyphony = 1
		}
		g.engine.SetPolyphony(g.polyphony)
	case inpututil.IsKeyJustPressed(ebiten.KeyL):
		g.legato = !g.legato
		g.engine.SetLegatoMode(g.legato)
	case inpututil.IsKeyJustPressed(ebiten.KeyD):
		if g.detuneMode == touchfm.DetuneProportional {
			g.detuneMode = touchfm.DetuneConstant
			g.engine.SetDetuneMode(g.detuneMode, 2)
		} else {
			g.detuneMode = touchfm.DetuneProportional
			g.engine.SetDetuneMode(g.detuneMode, 1.003)
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyUp):
		g.volume = min(g.volume+0.1, 2)
		g.engine.SetMasterVolume(g.volume)
	case inpututil.IsKeyJustPressed(ebiten.KeyDown):
		g.volume = max(g.volume-0.1, 0)
		g.engine.SetMasterVolume(g.volume)
	case inpututil.IsKeyJustPressed(ebiten.KeyP):
		if len(g.presets) == 0 {
			return
		}
		g.presetIdx = (g.presetIdx + 1) % len(g.presets)
		b := g.presets[g.presetIdx]
		g.status = "Loading " + b.Name
		g.engine.LoadPreset(b, nil)
	}
}

func (g *game) handleTouches() {
	for _, id := range inpututil.AppendJustPressedTouchIDs(nil) {
		x, y := ebiten.TouchPosition(id)
		g.press(int(id), x, y)
	}
	for id := range g.pointers {
		if id < 0 {
			continue
		}
		tid := ebiten.TouchID(id)
		if inpututil.IsTouchJustReleased(tid) {
			g.release(id)
			continue
		}
		x, y := ebiten.TouchPosition(tid)
		g.move(id, x, y)
	}
}

func (g *game) handleMouse() {
	x, y := ebiten.CursorPosition()
	switch {
	case inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft):
		g.press(-1, x, y)
	case inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft):
		g.release(-1)
	case ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft):
		g.move(-1, x, y)
	}
}

func (g *game) press(id, x, y int) {
	note, touch, ok := g.hit(x, y)
	if !ok {
		return
	}
	k := g.nextKey
	g.nextKey++
	g.pointers[id] = pointer{key: k, note: note}
	g.engine.NoteOn(k, touchfm.NoteFrequency(note), touch)
}

// move turns vertical motion on a held key into aftertouch. Sliding onto
// another key does not change the note.
func (g *game) move(id, x, y int) {
	p, ok := g.pointers[id]
	if !ok {
		return
	}
	g.engine.TouchMoved(p.key, g.touchAt(y))
}

func (g *game) release(id int) {
	p, ok := g.pointers[id]
	if !ok {
		return
	}
	delete(g.pointers, id)
	g.engine.NoteOff(p.key)
}

// touchAt maps the key's vertical position to touch: 0.2 at the top edge,
// 1 at the front.
func (g *game) touchAt(y int) float64 {
	h := float64(g.viewH - headerH)
	t := float64(y-headerH) / h
	return 0.2 + 0.8*min(max(t, 0), 1)
}

func (g *game) whiteKeys() []int {
	var notes []int
	for n := firstNote; n <= firstNote+12*numOctaves; n++ {
		if !isBlack(n) {
			notes = append(notes, n)
		}
	}
	return notes
}

func (g *game) keyRects() map[int]image.Rectangle {
	rects := make(map[int]image.Rectangle)
	whites := g.whiteKeys()
	w := g.viewW / len(whites)
	for i, n := range whites {
		rects[n] = image.Rect(i*w, headerH, (i+1)*w-1, g.viewH)
		if n+1 <= firstNote+12*numOctaves && isBlack(n+1) {
			bx := (i+1)*w - w/3
			rects[n+1] = image.Rect(bx, headerH, bx+2*w/3, headerH+(g.viewH-headerH)*6/10)
		}
	}
	return rects
}

func (g *game) hit(x, y int) (note int, touch float64, ok bool) {
	rects := g.keyRects()
	pt := image.Pt(x, y)
	var found []int
	for n, r := range rects {
		if pt.In(r) {
			found = append(found, n)
		}
	}
	if len(found) == 0 {
		return 0, 0, false
	}
	// Black keys sit on top of white ones.
	sort.Slice(found, func(i, j int) bool { return isBlack(found[i]) && !isBlack(found[j]) })
	return found[0], g.touchAt(y), true
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)
	held := make(map[int]bool)
	for _, p := range g.pointers {
		held[p.note] = true
	}
	rects := g.keyRects()
	for _, pass := range []bool{false, true} {
		for n, r := range rects {
			if isBlack(n) != pass {
				continue
			}
			fill := whiteKey
			if pass {
				fill = blackKey
			}
			if held[n] {
				fill = pressedColor
			}
			ebitenutil.DrawRect(screen, float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()), borderColor)
			ebitenutil.DrawRect(screen, float64(r.Min.X+1), float64(r.Min.Y+1), float64(r.Dx()-2), float64(r.Dy()-2), fill)
		}
	}
	g.drawScope(screen)
	mode := "poly"
	if g.polyphony == 1 {
		mode = "mono"
		if g.legato {
			mode = "mono legato"
		}
	}
	preset := "init"
	if len(g.presets) > 0 {
		preset = g.presets[g.presetIdx].Name
	}
	info := fmt.Sprintf("%s | preset %s | detune %s | volume %.1f | voices %d\n[M]ono [L]egato [D]etune [P]reset Up/Down volume\n%s",
		mode, preset, g.detuneMode, g.volume, g.engine.ActiveVoices(), g.status)
	ebitenutil.DebugPrintAt(screen, info, 8, 8)
}

func (g *game) drawScope(screen *ebiten.Image) {
	x0, y0, w, h := float64(g.viewW/2), 8.0, float64(g.viewW/2-8), float64(headerH-16)
	ebitenutil.DrawRect(screen, x0, y0, w, h, sunkenBgColor)
	samples := g.scope.Snapshot()
	mid := y0 + h/2
	step := w / float64(len(samples)-1)
	for i := 1; i < len(samples); i++ {
		ax := x0 + float64(i-1)*step
		bx := x0 + float64(i)*step
		ay := mid - float64(samples[i-1])*h/2
		by := mid - float64(samples[i])*h/2
		ebitenutil.DrawLine(screen, ax, ay, bx, by, scopeColor)
	}
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	g.viewW = max(outsideW, 640)
	g.viewH = max(outsideH, headerH+160)
	return g.viewW, g.viewH
}

// loadPresets reads every *.json in dir, sorted by file name.
func loadPresets(dir string) ([]touchfm.Bundle, error) {
	if dir == "" {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	presets := []touchfm.Bundle{touchfm.DefaultPreset()}
	for _, p := range paths {
		b, err := touchfm.LoadPresetFile(p)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(b.Name) == "" {
			b.Name = strings.TrimSuffix(filepath.Base(p), ".json")
		}
		presets = append(presets, b)
	}
	return presets, nil
}

func main() {
	presetDir := flag.String("presets", "", "directory of JSON presets to cycle with P")
	flag.Parse()

	presets, err := loadPresets(*presetDir)
	if err != nil {
		log.Fatalf("load presets: %v", err)
	}
	g, err := newGame(presets)
	if err != nil {
		log.Fatal(err)
	}
	defer g.Close()

	ebiten.SetWindowSize(windowW, windowH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowTitle("touchfm-go keyboard")
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}
