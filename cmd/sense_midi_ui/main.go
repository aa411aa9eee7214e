package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/eric-decompiled/midisense"
	"github.com/eric-decompiled/midisense/internal/audio"
)

const (
	windowW      = 960
	windowH      = 620
	minWindowW   = 820
	minWindowH   = 540
	uiSampleRate = 44100

	textScale = 2
	charW     = 7 * textScale
	lineH     = 14 * textScale

	orbitRange = 1.6
	trailLen   = 90
)

var (
	bgColor     = color.RGBA{16, 14, 22, 255}
	panelColor  = color.RGBA{30, 28, 40, 255}
	borderColor = color.RGBA{70, 66, 88, 255}
	trackColor  = color.RGBA{10, 9, 14, 255}
	ringColor   = color.RGBA{70, 66, 88, 255}

	bevelLight  = color.RGBA{96, 92, 120, 255}
	bevelDarker = color.RGBA{8, 7, 12, 255}

	sunkenBgColor = color.RGBA{10, 9, 14, 255}
)

type game struct {
	eng    *midisense.Engine
	player *audio.Player // nil when no SoundFont was given
	title  string

	paused      bool
	lastPos     float64
	silentClock float64
	lastWall    time.Time

	params midisense.MusicParams
	orbit  midisense.OrbitFrame
	trail  []midisense.OrbitFrame

	textCache map[string]*ebiten.Image
	viewW     int
	viewH     int
}

func newGame(eng *midisense.Engine, player *audio.Player, title string) *game {
	g := &game{
		eng:       eng,
		player:    player,
		title:     title,
		lastWall:  time.Now(),
		textCache: make(map[string]*ebiten.Image, 1024),
		viewW:     windowW,
		viewH:     windowH,
	}
	g.params = eng.Update(0, 0)
	g.orbit = eng.Orbit()
	return g
}

func (g *game) Update() error {
	if err := g.handleKeys(); err != nil {
		return err
	}

	now := time.Now()
	wallDt := now.Sub(g.lastWall).Seconds()
	g.lastWall = now

	if g.paused {
		return nil
	}

	var t float64
	if g.player != nil {
		t = g.player.Position()
	} else {
		if wallDt < 0 || wallDt > 0.1 {
			wallDt = 1.0 / 60.0
		}
		g.silentClock += wallDt
		t = g.silentClock
	}
	dt := t - g.lastPos
	if dt < 0 {
		dt = 0
	}
	g.lastPos = t

	g.params = g.eng.Update(t, dt)
	g.orbit = g.eng.Orbit()
	g.trail = append(g.trail, g.orbit)
	if len(g.trail) > trailLen {
		g.trail = g.trail[1:]
	}
	return nil
}

func (g *game) handleKeys() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyQ) || inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		g.paused = !g.paused
		if g.player != nil {
			if g.paused {
				g.player.Pause()
			} else {
				g.player.Play()
			}
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		g.restart()
	}
	return nil
}

func (g *game) restart() {
	if g.player != nil {
		g.player.Restart()
	}
	g.eng.Reset()
	g.lastPos = 0
	g.silentClock = 0
	g.trail = g.trail[:0]
	g.params = g.eng.Update(0, 0)
	g.orbit = g.eng.Orbit()
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)

	l := g.layoutRects()

	g.drawPanel(screen, l.header)
	g.drawSunkenPanel(screen, l.orbit)
	g.drawPanel(screen, l.params)
	g.drawSunkenPanel(screen, l.status)

	g.drawHeader(screen, l.header)
	g.drawOrbit(screen, l.orbit)
	g.drawParams(screen, l.params)
	g.drawStatus(screen, l.status)
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	if outsideW < minWindowW {
		outsideW = minWindowW
	}
	if outsideH < minWindowH {
		outsideH = minWindowH
	}
	g.viewW = outsideW
	g.viewH = outsideH
	return outsideW, outsideH
}

func (g *game) Close() {
	if g.player != nil {
		_ = g.player.Stop()
	}
}

type uiLayout struct {
	header image.Rectangle
	orbit  image.Rectangle
	params image.Rectangle
	status image.Rectangle
}

func (g *game) layoutRects() uiLayout {
	const pad = 10
	w, h := g.viewW, g.viewH
	headerH := lineH + 16
	statusH := lineH + 16

	header := image.Rect(pad, pad, w-pad, pad+headerH)
	status := image.Rect(pad, h-pad-statusH, w-pad, h-pad)
	bodyTop := header.Max.Y + pad
	bodyBottom := status.Min.Y - pad
	orbitRight := pad + (w-3*pad)*54/100
	orbit := image.Rect(pad, bodyTop, orbitRight, bodyBottom)
	params := image.Rect(orbitRight+pad, bodyTop, w-pad, bodyBottom)
	return uiLayout{header: header, orbit: orbit, params: params, status: status}
}

func (g *game) drawHeader(screen *ebiten.Image, rect image.Rectangle) {
	label := g.title
	if tonic, mode, ok := g.eng.KeyInfo(); ok {
		label = fmt.Sprintf("%s — %s", g.title, midisense.KeyName(tonic, mode))
	}
	g.drawText(screen, label, rect.Min.X+10, rect.Min.Y+(rect.Dy()-lineH)/2)

	clock := fmt.Sprintf("%6.1fs / %.1fs", g.lastPos, g.eng.Duration())
	x := rect.Max.X - 10 - len(clock)*charW
	g.drawText(screen, clock, x, rect.Min.Y+(rect.Dy()-lineH)/2)
}

// drawOrbit renders the anchor viewport: a reference ring at the base
// radius, the fading trail, a tension halo, and the anchor dot swelling
// on beat arrivals. Everything is keyed to the song's tonal hue.
func (g *game) drawOrbit(screen *ebiten.Image, rect image.Rectangle) {
	p := g.params
	cx := float64(rect.Min.X+rect.Max.X) / 2
	cy := float64(rect.Min.Y+rect.Max.Y) / 2
	half := math.Min(float64(rect.Dx()), float64(rect.Dy()))/2 - 14
	scale := half / orbitRange

	for i := 0; i < 96; i++ {
		a := 2 * math.Pi * float64(i) / 96
		x := cx + math.Cos(a)*scale
		y := cy - math.Sin(a)*scale
		ebitenutil.DrawRect(screen, x-1, y-1, 2, 2, ringColor)
	}

	hue := p.KeyRotation * 180 / math.Pi
	for i, f := range g.trail {
		frac := float64(i+1) / float64(len(g.trail))
		c := hsvRGBA(hue, 0.55, 0.85, 0.35*frac)
		x := cx + f.CReal*scale
		y := cy - f.CImag*scale
		ebitenutil.DrawRect(screen, x-1, y-1, 3, 3, c)
	}

	mx := cx + math.Cos(g.orbit.Rotation)*scale
	my := cy - math.Sin(g.orbit.Rotation)*scale
	ebitenutil.DrawRect(screen, mx-2, my-2, 5, 5, hsvRGBA(hue, 0.35, 1, 1))

	dx := cx + g.orbit.CReal*scale
	dy := cy - g.orbit.CImag*scale
	haloR := 10 + 10*p.Tension
	ebitenutil.DrawCircle(screen, dx, dy, haloR, hsvRGBA(120*(1-p.Tension), 0.85, 0.9, 0.25))
	dotR := 5 + 5*p.BeatArrival
	ebitenutil.DrawCircle(screen, dx, dy, dotR, hsvRGBA(hue, 0.6, 0.6+0.4*p.BeatArrival, 1))
}

func (g *game) drawParams(screen *ebiten.Image, rect image.Rectangle) {
	p := g.params
	x := rect.Min.X + 12
	y := rect.Min.Y + 12
	w := rect.Dx() - 24

	tonic, mode, loaded := g.eng.KeyInfo()
	chord := "—"
	if loaded {
		chord = midisense.ChordName(p.ChordRoot, p.ChordQuality, tonic, mode) + " " + degreeLabel(p.ChordDegree)
	}
	g.drawTextScale(screen, chord, x, y, 3)
	y += lineH*2 + 8

	g.drawText(screen, fmt.Sprintf("%5.1f BPM  beat %d (%d in bar)", p.BPM, p.BeatIndex, p.BeatInBar+1), x, y)
	y += lineH + 10

	hue := p.KeyRotation * 180 / math.Pi
	keyFill := hsvRGBA(hue, 0.6, 0.9, 1)
	tensionFill := hsvRGBA(120*(1-p.Tension), 0.85, 0.9, 1)

	y = g.drawMeter(screen, x, y, w, "tension", p.Tension, tensionFill)
	y = g.drawMeter(screen, x, y, w, "beat", p.BeatPhase, keyFill)
	y = g.drawMeter(screen, x, y, w, "bar", p.BarPhase, keyFill)
	y = g.drawMeter(screen, x, y, w, "groove", p.BeatGroove, keyFill)
	y = g.drawMeter(screen, x, y, w, "arrival", p.BeatArrival, keyFill)
	y = g.drawMeter(screen, x, y, w, "antic", p.BeatAnticipation, keyFill)
	y += 6

	g.drawText(screen, fmt.Sprintf("melody %-4s bass %s", midisense.NoteName(p.MelodyMidiNote), midisense.NoteName(p.BassMidiNote)), x, y)
	y += lineH + 6

	win := g.eng.AnticipationWindow()
	notes := g.eng.NotesInWindow(g.lastPos)
	next := "—"
	if len(notes) > 0 {
		next = ""
		for i, n := range notes {
			if i == 5 {
				break
			}
			if i > 0 {
				next += " "
			}
			next += midisense.NoteName(n.Midi)
		}
	}
	g.drawText(screen, fmt.Sprintf("window %3.0fms  next: %s", win.Lookahead*1000, next), x, y)
}

func (g *game) drawMeter(screen *ebiten.Image, x, y, w int, label string, frac float64, fill color.Color) int {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	g.drawText(screen, label, x, y)
	barX := x + 9*charW
	barW := w - 9*charW
	barH := lineH - 8
	ebitenutil.DrawRect(screen, float64(barX), float64(y+4), float64(barW), float64(barH), trackColor)
	ebitenutil.DrawRect(screen, float64(barX), float64(y+4), float64(barW)*frac, float64(barH), fill)
	drawSunkenBorder(screen, image.Rect(barX, y+4, barX+barW, y+4+barH))
	return y + lineH + 4
}

func (g *game) drawStatus(screen *ebiten.Image, rect image.Rectangle) {
	mode := "silent clock"
	if g.player != nil {
		mode = "soundfont"
		if g.player.Done() {
			mode = "played out"
		}
	}
	state := "playing"
	if g.paused {
		state = "paused"
	}
	g.drawText(screen, fmt.Sprintf("%s · %s", mode, state), rect.Min.X+10, rect.Min.Y+(rect.Dy()-lineH)/2)

	help := "SPACE pause  R restart  Q quit"
	x := rect.Max.X - 10 - len(help)*charW
	g.drawText(screen, help, x, rect.Min.Y+(rect.Dy()-lineH)/2)
}

func (g *game) drawPanel(screen *ebiten.Image, rect image.Rectangle) {
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), panelColor)
	drawBorder(screen, rect)
}

func (g *game) drawSunkenPanel(screen *ebiten.Image, rect image.Rectangle) {
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), sunkenBgColor)
	drawSunkenBorder(screen, rect)
}

// drawBorder draws a raised bevel (highlight top/left, shadow bottom/right).
func drawBorder(screen *ebiten.Image, rect image.Rectangle) {
	x := float64(rect.Min.X)
	y := float64(rect.Min.Y)
	w := float64(rect.Dx())
	h := float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, bevelLight)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, bevelLight)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelDarker)
}

// drawSunkenBorder draws the inverse bevel for recessed areas.
func drawSunkenBorder(screen *ebiten.Image, rect image.Rectangle) {
	x := float64(rect.Min.X)
	y := float64(rect.Min.Y)
	w := float64(rect.Dx())
	h := float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, bevelDarker)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, borderColor)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, borderColor)
}

func (g *game) drawText(screen *ebiten.Image, msg string, x int, y int) {
	g.drawTextScale(screen, msg, x, y, textScale)
}

func (g *game) drawTextScale(screen *ebiten.Image, msg string, x int, y int, scale float64) {
	if msg == "" {
		return
	}
	img := g.textCache[msg]
	if img == nil {
		w := max(1, len([]rune(msg))*7)
		img = ebiten.NewImage(w, 14)
		ebitenutil.DebugPrintAt(img, msg, 0, 0)
		if len(g.textCache) > 3000 {
			g.textCache = make(map[string]*ebiten.Image, 1024)
		}
		g.textCache[msg] = img
	}
	opS := &ebiten.DrawImageOptions{}
	opS.GeoM.Scale(scale, scale)
	opS.GeoM.Translate(float64(x+2), float64(y+2))
	opS.ColorScale.Scale(0, 0, 0, 1)
	screen.DrawImage(img, opS)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate(float64(x), float64(y))
	screen.DrawImage(img, op)
}

func hsvRGBA(h, s, v, a float64) color.RGBA {
	r, gr, b := colorful.Hsv(h, s, v).RGB255()
	return color.RGBA{
		R: uint8(float64(r) * a),
		G: uint8(float64(gr) * a),
		B: uint8(float64(b) * a),
		A: uint8(255 * a),
	}
}

var romanDegrees = [...]string{"", "I", "II", "III", "IV", "V", "VI", "VII"}

func degreeLabel(degree int) string {
	if degree < 1 || degree >= len(romanDegrees) {
		return "(?)"
	}
	return "(" + romanDegrees[degree] + ")"
}

func main() {
	var (
		sfPath  = flag.String("sf", "", "SoundFont (.sf2) for audible playback; silent clock when empty")
		keyName = flag.String("key", "", "trust this key instead of estimating it (e.g. C, Eb, f#m)")
	)
	flag.Parse()
	if flag.NArg() < 1 {
		log.Fatal("usage: sense_midi_ui [-sf font.sf2] [-key C] <file.mid>")
	}
	path := flag.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %q: %v", path, err)
	}

	var opts []midisense.Option
	if *keyName != "" {
		tonic, mode, err := midisense.ParseKey(*keyName)
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, midisense.WithAssumedKey(tonic, mode))
	}

	eng := midisense.NewEngine(opts...)
	if _, err := eng.LoadSong(data); err != nil {
		log.Fatal(err)
	}

	var pl *audio.Player
	if *sfPath != "" {
		sf, err := os.ReadFile(*sfPath)
		if err != nil {
			log.Fatalf("read %q: %v", *sfPath, err)
		}
		length := time.Duration(eng.Duration() * float64(time.Second))
		pl, err = audio.NewSongPlayer(sf, data, uiSampleRate, length)
		if err != nil {
			log.Fatal(err)
		}
		pl.Play()
	}

	g := newGame(eng, pl, filepath.Base(path))
	defer g.Close()

	ebiten.SetWindowSize(windowW, windowH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
	ebiten.SetWindowTitle("midisense")
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}
