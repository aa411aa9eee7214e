package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/eric-decompiled/midisense"
)

const (
	tickRate = time.Second / 30
	seekStep = 2.0

	meterWidth = 24

	// Orbit pane dimensions. Terminal cells are roughly twice as tall
	// as wide, so the pane is wider than it is high.
	orbitW     = 33
	orbitH     = 13
	orbitRange = 1.6
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

type keyMap struct {
	PlayPause key.Binding
	Restart   key.Binding
	Back      key.Binding
	Forward   key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		PlayPause: key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		Restart:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "restart")),
		Back:      key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "back 2s")),
		Forward:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "forward 2s")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PlayPause, k.Restart, k.Back, k.Forward, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PlayPause, k.Restart},
		{k.Back, k.Forward},
		{k.Help, k.Quit},
	}
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(tickRate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	eng      *midisense.Engine
	filename string

	playing  bool
	now      float64
	lastTick time.Time

	params   midisense.MusicParams
	orbit    midisense.OrbitFrame
	window   midisense.AnticipationWindow
	upcoming []midisense.NoteEvent

	keys     keyMap
	help     help.Model
	quitting bool
}

func newModel(eng *midisense.Engine, filename string) model {
	m := model{
		eng:      eng,
		filename: filename,
		playing:  true,
		lastTick: time.Now(),
		keys:     newKeyMap(),
		help:     help.New(),
	}
	m.refresh(0)
	return m
}

// refresh recomputes the displayed snapshot at the current clock.
func (m *model) refresh(dt float64) {
	m.params = m.eng.Update(m.now, dt)
	m.orbit = m.eng.Orbit()
	m.window = m.eng.AnticipationWindow()
	m.upcoming = m.eng.NotesInWindow(m.now)
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case tickMsg:
		now := time.Time(msg)
		dt := now.Sub(m.lastTick).Seconds()
		m.lastTick = now
		if dt <= 0 || dt > 0.25 {
			dt = tickRate.Seconds()
		}
		if m.playing {
			m.now += dt
			m.refresh(dt)
		}
		return m, tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.PlayPause):
			m.playing = !m.playing
		case key.Matches(msg, m.keys.Restart):
			m.eng.Reset()
			m.now = 0
			m.refresh(0)
		case key.Matches(msg, m.keys.Back):
			m.seek(m.now - seekStep)
		case key.Matches(msg, m.keys.Forward):
			m.seek(m.now + seekStep)
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}
	return m, nil
}

func (m *model) seek(t float64) {
	if t < 0 {
		t = 0
	}
	if dur := m.eng.Duration(); dur > 0 && t > dur {
		t = dur
	}
	m.now = t
	m.eng.Seek(t)
	m.refresh(0)
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	p := m.params
	keyColor := lipgloss.Color(colorful.Hsv(hueForKey(p.Key), 0.60, 0.95).Hex())
	tensionColor := lipgloss.Color(colorful.Hsv(120*(1-p.Tension), 0.85, 0.92).Hex())

	name := m.filename
	if name == "" {
		name = "(idle)"
	}
	title := titleStyle.Foreground(keyColor).Render("midisense scope — " + name)

	status := "∥"
	if m.playing {
		status = "▶"
	}
	transport := fmt.Sprintf("%s %6.1fs / %.1fs   %5.1f BPM   beat %d (%d in bar)",
		status, m.now, m.eng.Duration(), p.BPM, p.BeatIndex, p.BeatInBar+1)

	var keyLine string
	if tonic, mode, ok := m.eng.KeyInfo(); ok {
		keyLine = fmt.Sprintf("key %-9s chord %s %s",
			midisense.KeyName(tonic, mode),
			midisense.ChordName(p.ChordRoot, p.ChordQuality, tonic, mode),
			degreeLabel(p.ChordDegree))
	} else {
		keyLine = dimStyle.Render("no song loaded — breathing at 60 BPM")
	}

	meters := strings.Join([]string{
		meterLine("tension", p.Tension, tensionColor),
		meterLine("beat", p.BeatPhase, keyColor),
		meterLine("bar", p.BarPhase, keyColor),
		meterLine("groove", p.BeatGroove, keyColor),
		meterLine("arrival", p.BeatArrival, keyColor),
		meterLine("antic", p.BeatAnticipation, keyColor),
	}, "\n")

	pane := lipgloss.NewStyle().Foreground(keyColor).Render(orbitPane(m.orbit, p.BeatArrival))
	body := lipgloss.JoinHorizontal(lipgloss.Top, meters, "   ", pane)

	voices := fmt.Sprintf("melody %-4s bass %-4s   window %3.0fms   upcoming: %s",
		midisense.NoteName(p.MelodyMidiNote),
		midisense.NoteName(p.BassMidiNote),
		m.window.Lookahead*1000,
		upcomingLabel(m.upcoming))

	var out strings.Builder
	out.WriteString("\n " + title + "\n\n")
	out.WriteString(" " + valueStyle.Render(transport) + "\n")
	out.WriteString(" " + valueStyle.Render(keyLine) + "\n\n")
	out.WriteString(body)
	out.WriteString("\n\n " + labelStyle.Render(voices) + "\n\n")
	out.WriteString(" " + m.help.View(m.keys) + "\n")
	return out.String()
}

func meterLine(label string, frac float64, c lipgloss.Color) string {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	filled := int(frac*float64(meterWidth) + 0.5)
	bar := lipgloss.NewStyle().Foreground(c).Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", meterWidth-filled))
	return fmt.Sprintf(" %s %s %s",
		labelStyle.Render(fmt.Sprintf("%-8s", label)),
		bar,
		valueStyle.Render(fmt.Sprintf("%4.2f", frac)))
}

// orbitPane renders the anchor position on a small character canvas:
// a dotted ring at the base radius, the spin marker on the ring, and
// the anchor itself, swelling on beat arrivals.
func orbitPane(o midisense.OrbitFrame, arrival float64) string {
	rows := make([][]rune, orbitH)
	for i := range rows {
		rows[i] = make([]rune, orbitW)
		for j := range rows[i] {
			rows[i][j] = ' '
		}
	}

	for i := 0; i < 48; i++ {
		a := 2 * math.Pi * float64(i) / 48
		plot(rows, math.Cos(a), math.Sin(a), '·')
	}
	plot(rows, 0, 0, '+')
	plot(rows, math.Cos(o.Rotation), math.Sin(o.Rotation), '◆')

	dot := '●'
	if arrival > 0.6 {
		dot = '◉'
	}
	plot(rows, o.CReal, o.CImag, dot)

	lines := make([]string, orbitH)
	for i, r := range rows {
		lines[i] = string(r)
	}
	return strings.Join(lines, "\n")
}

func plot(rows [][]rune, x, y float64, r rune) {
	col := int(math.Round((x/orbitRange + 1) * float64(orbitW-1) / 2))
	row := int(math.Round((1 - y/orbitRange) * float64(orbitH-1) / 2))
	if col < 0 || col >= orbitW || row < 0 || row >= orbitH {
		return
	}
	rows[row][col] = r
}

func hueForKey(pc int) float64 {
	return float64(((pc%12)+12)%12) * 30
}

func upcomingLabel(notes []midisense.NoteEvent) string {
	if len(notes) == 0 {
		return "—"
	}
	names := make([]string, 0, 6)
	for _, n := range notes {
		names = append(names, midisense.NoteName(n.Midi))
		if len(names) == 6 {
			break
		}
	}
	return strings.Join(names, " ")
}

var romanDegrees = [...]string{"", "I", "II", "III", "IV", "V", "VI", "VII"}

func degreeLabel(degree int) string {
	if degree < 1 || degree >= len(romanDegrees) {
		return "(?)"
	}
	return "(" + romanDegrees[degree] + ")"
}

func main() {
	var keyName = flag.String("key", "", "trust this key instead of estimating it (e.g. C, Eb, f#m)")
	flag.Parse()

	var opts []midisense.Option
	if *keyName != "" {
		tonic, mode, err := midisense.ParseKey(*keyName)
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, midisense.WithAssumedKey(tonic, mode))
	}

	eng := midisense.NewEngine(opts...)
	filename := ""
	if flag.NArg() > 0 {
		path := flag.Arg(0)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %q: %v", path, err)
		}
		if _, err := eng.LoadSong(data); err != nil {
			log.Fatal(err)
		}
		filename = filepath.Base(path)
	}

	p := tea.NewProgram(newModel(eng, filename), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
