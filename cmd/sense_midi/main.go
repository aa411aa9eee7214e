package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/eric-decompiled/midisense"
)

func main() {
	var (
		midiPath = flag.String("file", "", "path to a Standard MIDI File (or pass it as the first argument)")
		keyName  = flag.String("key", "", "trust this key instead of estimating it (e.g. C, Eb, f#m)")
		rate     = flag.Float64("rate", 2.0, "tension smoothing rate per second")
		fps      = flag.Float64("fps", 60, "sampling rate of the parameter trace")
		seconds  = flag.Float64("seconds", 0, "span to trace in seconds (0 = whole song)")
		trace    = flag.Bool("trace", false, "dump every sampled frame instead of chord changes")
		debug    = flag.Bool("debug", false, "verbose engine logging on stderr")
	)
	flag.Parse()

	initLogger(*debug)

	path := *midiPath
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	if path == "" {
		log.Fatal("usage: sense_midi [-key C] [-trace] <file.mid>")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}

	opts := []midisense.Option{midisense.WithTensionRate(*rate)}
	if *debug {
		opts = append(opts, midisense.WithLogger(slog.Default()))
	}
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
	points, err := midisense.RenderTrace(data, *fps, *seconds, opts...)
	if err != nil {
		log.Fatal(err)
	}

	tonic, mode, _ := eng.KeyInfo()
	fmt.Printf("%s: %s, %.1fs", path, midisense.KeyName(tonic, mode), eng.Duration())
	if len(points) > 0 {
		fmt.Printf(", %.0f BPM at the top", points[0].Params.BPM)
	}
	fmt.Println()

	if *trace {
		printTrace(points)
	} else {
		printChordChanges(points, tonic, mode)
	}
}

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	slog.SetDefault(slog.New(handler))
}

func printChordChanges(points []midisense.TracePoint, tonic int, mode midisense.KeyMode) {
	lastRoot := -1
	lastQuality := midisense.QualityUnknown
	for _, pt := range points {
		p := pt.Params
		if p.ChordRoot == lastRoot && p.ChordQuality == lastQuality {
			continue
		}
		lastRoot, lastQuality = p.ChordRoot, p.ChordQuality
		fmt.Printf("%7.2fs  %-8s %s  tension %.2f\n",
			p.Time,
			midisense.ChordName(p.ChordRoot, p.ChordQuality, tonic, mode),
			degreeLabel(p.ChordDegree),
			p.Tension)
	}
}

func printTrace(points []midisense.TracePoint) {
	for _, pt := range points {
		p := pt.Params
		fmt.Printf("%8.3f  bpm=%6.1f beat=%d:%d phase=%.3f tension=%.3f melody=%-4s bass=%-4s orbit=(%+.3f,%+.3f)\n",
			p.Time, p.BPM, p.BeatIndex, p.BeatInBar+1, p.BeatPhase, p.Tension,
			midisense.NoteName(p.MelodyMidiNote), midisense.NoteName(p.BassMidiNote),
			pt.Orbit.CReal, pt.Orbit.CImag)
	}
}

var romanDegrees = [...]string{"", "I", "II", "III", "IV", "V", "VI", "VII"}

func degreeLabel(degree int) string {
	if degree < 1 || degree >= len(romanDegrees) {
		return "(?)"
	}
	return "(" + romanDegrees[degree] + ")"
}
