package song

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
)

var (
	// ErrBadHeader marks a MIDI buffer whose MThd chunk is missing,
	// malformed, or inconsistent with the buffer size.
	ErrBadHeader = errors.New("malformed MThd header")

	// ErrRunningStatus marks a data byte that arrives before any status
	// byte has been seen on the track.
	ErrRunningStatus = errors.New("running status with no prior status")
)

// Config holds the parser knobs. Defaults apply when a file carries no
// tempo or time-signature meta events at all.
type Config struct {
	DrumChannel          int
	DefaultMicrosPerBeat int
	DefaultNumerator     int
	DefaultDenominator   int
}

func DefaultConfig() Config {
	return Config{
		DrumChannel:          9,
		DefaultMicrosPerBeat: DefaultMicrosecondsPerBeat,
		DefaultNumerator:     DefaultNumerator,
		DefaultDenominator:   DefaultDenominator,
	}
}

type Parser struct {
	cfg Config
	log *slog.Logger
}

func NewParser(cfg Config) *Parser {
	return &Parser{cfg: cfg, log: slog.New(slog.DiscardHandler)}
}

// SetLogger routes recoverable-anomaly reports; nil restores the discard.
func (p *Parser) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	p.log = l
}

const (
	statusNoteOff     = 0x80
	statusNoteOn      = 0x90
	statusPolyTouch   = 0xA0
	statusController  = 0xB0
	statusProgram     = 0xC0
	statusChanTouch   = 0xD0
	statusPitchBend   = 0xE0
	statusSysex       = 0xF0
	statusSysexEscape = 0xF7
	statusMeta        = 0xFF

	metaEndOfTrack    = 0x2F
	metaTempo         = 0x51
	metaTimeSignature = 0x58
	metaKeySignature  = 0x59
)

// Parse reads a standard MIDI file into a Timeline with notes, drums, tempo
// and time-signature lists populated; key and chords are the analyzer's job.
// A truncated trailing track is tolerated (whatever parsed is kept); a bad
// header or a data byte with no prior status is fatal.
func (p *Parser) Parse(data []byte) (*Timeline, error) {
	hdr, body, err := readHeader(data)
	if err != nil {
		return nil, err
	}

	var (
		stream    []rawEvent
		keySig    *KeySignature
		endTick   int64
		orphans   int
		truncated int
		tracks    int
	)
	r := &byteReader{data: body}
	for r.remaining() > 0 {
		if r.remaining() < 8 {
			truncated++
			p.log.Debug("trailing bytes after last chunk", "bytes", r.remaining())
			break
		}
		id, _ := r.take(4)
		length, _ := r.u32()
		chunk, short := r.takeUpTo(int(length))
		if string(id) != "MTrk" {
			if short {
				truncated++
				p.log.Debug("truncated foreign chunk", "id", string(id))
			}
			continue
		}
		tracks++
		events, ks, trackEnd, terr := p.parseTrack(chunk)
		stream = append(stream, events...)
		if trackEnd > endTick {
			endTick = trackEnd
		}
		if ks != nil && keySig == nil {
			keySig = ks
		}
		if terr != nil {
			if errors.Is(terr, ErrRunningStatus) {
				return nil, fmt.Errorf("track %d: %w", tracks, terr)
			}
			truncated++
			p.log.Debug("track truncated mid-event", "track", tracks, "err", terr)
		}
		if short {
			// The declared chunk length overran the buffer, so no
			// further chunks can follow.
			break
		}
	}

	// A same-tick pair must keep its parse order, so the sort is stable.
	sort.SliceStable(stream, func(i, j int) bool { return stream[i].tick < stream[j].tick })

	tl, stats := p.assemble(hdr, stream, endTick)
	tl.KeySig = keySig
	orphans = stats.orphans

	p.log.Debug("midi parsed",
		"tracks", tracks,
		"notes", len(tl.Notes),
		"drums", len(tl.Drums),
		"tempoChanges", len(tl.Tempo),
		"orphanOffs", orphans,
		"truncatedChunks", truncated,
		"duration", tl.Duration)
	return tl, nil
}

type header struct {
	format   int
	ntracks  int
	division int
}

func readHeader(data []byte) (header, []byte, error) {
	if len(data) < 14 {
		return header{}, nil, fmt.Errorf("%w: %d bytes is too short", ErrBadHeader, len(data))
	}
	if string(data[0:4]) != "MThd" {
		return header{}, nil, fmt.Errorf("%w: bad magic %q", ErrBadHeader, data[0:4])
	}
	hlen := binary.BigEndian.Uint32(data[4:8])
	if hlen != 6 {
		return header{}, nil, fmt.Errorf("%w: header length %d, want 6", ErrBadHeader, hlen)
	}
	h := header{
		format:   int(binary.BigEndian.Uint16(data[8:10])),
		ntracks:  int(binary.BigEndian.Uint16(data[10:12])),
		division: int(binary.BigEndian.Uint16(data[12:14])),
	}
	if h.division == 0 {
		return header{}, nil, fmt.Errorf("%w: zero division", ErrBadHeader)
	}
	return h, data[14:], nil
}

type rawKind int

const (
	rawNoteOn rawKind = iota
	rawNoteOff
	rawTempo
	rawTimeSig
)

type rawEvent struct {
	tick     int64
	kind     rawKind
	channel  int
	pitch    int
	velocity int
	uspb     int
	num, den int
}

// parseTrack walks one MTrk body and emits tick-stamped raw events plus the
// final tick it reached. A truncation error is returned alongside whatever
// parsed before it.
func (p *Parser) parseTrack(body []byte) ([]rawEvent, *KeySignature, int64, error) {
	r := &byteReader{data: body}
	var (
		events []rawEvent
		keySig *KeySignature
		status byte
		tick   int64
	)
	for r.remaining() > 0 {
		delta, err := r.vlq()
		if err != nil {
			return events, keySig, tick, err
		}
		tick += int64(delta)

		b, err := r.u8()
		if err != nil {
			return events, keySig, tick, err
		}
		if b < 0x80 {
			if status == 0 {
				return events, keySig, tick, ErrRunningStatus
			}
			r.pos-- // data byte belongs to the running-status event
			b = status
		} else if b < 0xF0 {
			status = b
		}

		switch {
		case b == statusMeta:
			metaType, err := r.u8()
			if err != nil {
				return events, keySig, tick, err
			}
			mlen, err := r.vlq()
			if err != nil {
				return events, keySig, tick, err
			}
			payload, err := r.take(int(mlen))
			if err != nil {
				return events, keySig, tick, err
			}
			status = 0
			switch metaType {
			case metaEndOfTrack:
				return events, keySig, tick, nil
			case metaTempo:
				if len(payload) >= 3 {
					uspb := int(payload[0])<<16 | int(payload[1])<<8 | int(payload[2])
					if uspb > 0 {
						events = append(events, rawEvent{tick: tick, kind: rawTempo, uspb: uspb})
					}
				} else {
					p.log.Debug("short tempo meta", "len", len(payload))
				}
			case metaTimeSignature:
				if len(payload) >= 2 && payload[0] > 0 {
					events = append(events, rawEvent{
						tick: tick,
						kind: rawTimeSig,
						num:  int(payload[0]),
						den:  1 << payload[1],
					})
				} else {
					p.log.Debug("short time-signature meta", "len", len(payload))
				}
			case metaKeySignature:
				if len(payload) >= 2 && keySig == nil {
					keySig = &KeySignature{
						SharpsFlats: int(int8(payload[0])),
						Minor:       payload[1] == 1,
					}
				}
			}
		case b == statusSysex || b == statusSysexEscape:
			slen, err := r.vlq()
			if err != nil {
				return events, keySig, tick, err
			}
			if _, err := r.take(int(slen)); err != nil {
				return events, keySig, tick, err
			}
			status = 0
		default:
			kind := b & 0xF0
			channel := int(b & 0x0F)
			d1, err := r.u8()
			if err != nil {
				return events, keySig, tick, err
			}
			var d2 byte
			if kind != statusProgram && kind != statusChanTouch {
				if d2, err = r.u8(); err != nil {
					return events, keySig, tick, err
				}
			}
			switch kind {
			case statusNoteOn:
				ev := rawEvent{tick: tick, kind: rawNoteOn, channel: channel, pitch: int(d1), velocity: int(d2)}
				if d2 == 0 {
					ev.kind = rawNoteOff
				}
				events = append(events, ev)
			case statusNoteOff:
				events = append(events, rawEvent{tick: tick, kind: rawNoteOff, channel: channel, pitch: int(d1)})
			}
		}
	}
	return events, keySig, tick, nil
}

type assembleStats struct {
	orphans int
}

// assemble converts the merged tick stream to seconds, matches note pairs,
// and splits percussion from melodic notes. endTick is the furthest tick any
// track reached, which may lie past the final event.
func (p *Parser) assemble(hdr header, stream []rawEvent, endTick int64) (*Timeline, assembleStats) {
	clock := newTickClock(hdr, stream, p.cfg)
	tl := &Timeline{}
	var stats assembleStats

	type openNote struct {
		tick     int64
		velocity int
	}
	open := make(map[int][]openNote)
	keyOf := func(channel, pitch int) int { return channel<<8 | pitch }

	lastTick := endTick
	for _, ev := range stream {
		if ev.tick > lastTick {
			lastTick = ev.tick
		}
		switch ev.kind {
		case rawTempo:
			tl.Tempo = append(tl.Tempo, TempoEvent{Time: clock.seconds(ev.tick), MicrosecondsPerBeat: ev.uspb})
		case rawTimeSig:
			tl.TimeSig = append(tl.TimeSig, TimeSignatureEvent{Time: clock.seconds(ev.tick), Numerator: ev.num, Denominator: ev.den})
		case rawNoteOn:
			if ev.channel == p.cfg.DrumChannel {
				tl.Drums = append(tl.Drums, DrumHit{
					Time:     clock.seconds(ev.tick),
					Midi:     ev.pitch,
					Velocity: float64(ev.velocity) / 127.0,
				})
				continue
			}
			k := keyOf(ev.channel, ev.pitch)
			open[k] = append(open[k], openNote{tick: ev.tick, velocity: ev.velocity})
		case rawNoteOff:
			if ev.channel == p.cfg.DrumChannel {
				continue
			}
			k := keyOf(ev.channel, ev.pitch)
			stack := open[k]
			if len(stack) == 0 {
				stats.orphans++
				p.log.Debug("orphan note-off", "channel", ev.channel, "pitch", ev.pitch)
				continue
			}
			on := stack[len(stack)-1]
			open[k] = stack[:len(stack)-1]
			tl.Notes = append(tl.Notes, p.noteFrom(clock, ev.channel, ev.pitch, on.tick, ev.tick, on.velocity))
		}
	}

	// Notes never closed are cut off where parsing stopped.
	for k, stack := range open {
		channel, pitch := k>>8, k&0xFF
		for _, on := range stack {
			p.log.Debug("note still open at end", "channel", channel, "pitch", pitch)
			tl.Notes = append(tl.Notes, p.noteFrom(clock, channel, pitch, on.tick, lastTick, on.velocity))
		}
	}

	sort.SliceStable(tl.Notes, func(i, j int) bool {
		if tl.Notes[i].Time != tl.Notes[j].Time {
			return tl.Notes[i].Time < tl.Notes[j].Time
		}
		return tl.Notes[i].Channel < tl.Notes[j].Channel
	})
	sort.SliceStable(tl.Drums, func(i, j int) bool { return tl.Drums[i].Time < tl.Drums[j].Time })

	tl.Tempo = normalizeTempo(tl.Tempo, p.cfg.DefaultMicrosPerBeat)
	tl.TimeSig = normalizeTimeSig(tl.TimeSig, p.cfg.DefaultNumerator, p.cfg.DefaultDenominator)

	for _, n := range tl.Notes {
		if end := n.Time + n.Duration; end > tl.Duration {
			tl.Duration = end
		}
		if n.Duration > tl.LongestNote {
			tl.LongestNote = n.Duration
		}
	}
	if n := len(tl.Drums); n > 0 && tl.Drums[n-1].Time > tl.Duration {
		tl.Duration = tl.Drums[n-1].Time
	}
	if end := clock.seconds(lastTick); end > tl.Duration {
		tl.Duration = end
	}
	return tl, stats
}

func (p *Parser) noteFrom(clock *tickClock, channel, pitch int, onTick, offTick int64, velocity int) NoteEvent {
	start := clock.seconds(onTick)
	return NoteEvent{
		Time:     start,
		Duration: clock.seconds(offTick) - start,
		Midi:     pitch,
		Velocity: float64(velocity) / 127.0,
		Channel:  channel,
	}
}

// normalizeTempo guarantees an entry at t=0 and collapses same-time entries
// down to the last one written.
func normalizeTempo(events []TempoEvent, defaultUspb int) []TempoEvent {
	if len(events) == 0 || events[0].Time > 0 {
		events = append([]TempoEvent{{Time: 0, MicrosecondsPerBeat: defaultUspb}}, events...)
	}
	out := events[:1]
	for _, e := range events[1:] {
		if e.Time == out[len(out)-1].Time {
			out[len(out)-1] = e
			continue
		}
		out = append(out, e)
	}
	return out
}

func normalizeTimeSig(events []TimeSignatureEvent, num, den int) []TimeSignatureEvent {
	if len(events) == 0 || events[0].Time > 0 {
		events = append([]TimeSignatureEvent{{Time: 0, Numerator: num, Denominator: den}}, events...)
	}
	out := events[:1]
	for _, e := range events[1:] {
		if e.Time == out[len(out)-1].Time {
			out[len(out)-1] = e
			continue
		}
		out = append(out, e)
	}
	return out
}

// tickClock converts absolute ticks to seconds over the merged tempo map.
// With SMPTE division the tick length is fixed and tempo metas do not bend
// the clock (they still land in Timeline.Tempo as musical tempo).
type tickClock struct {
	segs  []tempoSegment
	fixed float64 // seconds per tick when SMPTE, else 0
}

type tempoSegment struct {
	tick       int64
	seconds    float64
	secPerTick float64
}

func newTickClock(hdr header, stream []rawEvent, cfg Config) *tickClock {
	if hdr.division&0x8000 != 0 {
		fps := float64(256 - (hdr.division >> 8)) // stored as negative two's complement
		tpf := float64(hdr.division & 0xFF)
		if fps <= 0 || tpf <= 0 {
			fps, tpf = 25, 40
		}
		return &tickClock{fixed: 1.0 / (fps * tpf)}
	}
	tpq := float64(hdr.division)
	perTick := func(uspb int) float64 { return float64(uspb) / 1e6 / tpq }
	segs := []tempoSegment{{tick: 0, seconds: 0, secPerTick: perTick(cfg.DefaultMicrosPerBeat)}}
	for _, ev := range stream {
		if ev.kind != rawTempo {
			continue
		}
		last := &segs[len(segs)-1]
		if ev.tick == last.tick {
			last.secPerTick = perTick(ev.uspb)
			continue
		}
		segs = append(segs, tempoSegment{
			tick:       ev.tick,
			seconds:    last.seconds + float64(ev.tick-last.tick)*last.secPerTick,
			secPerTick: perTick(ev.uspb),
		})
	}
	return &tickClock{segs: segs}
}

func (c *tickClock) seconds(tick int64) float64 {
	if c.fixed > 0 {
		return float64(tick) * c.fixed
	}
	i := sort.Search(len(c.segs), func(k int) bool { return c.segs[k].tick > tick }) - 1
	if i < 0 {
		i = 0
	}
	seg := c.segs[i]
	return seg.seconds + float64(tick-seg.tick)*seg.secPerTick
}

// byteReader is a bounds-checked cursor over the raw buffer.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) remaining() int { return len(r.data) - r.pos }

func (r *byteReader) u8() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// takeUpTo returns up to n bytes, reporting whether it came up short.
func (r *byteReader) takeUpTo(n int) ([]byte, bool) {
	if n < 0 {
		return nil, true
	}
	if r.remaining() < n {
		b := r.data[r.pos:]
		r.pos = len(r.data)
		return b, true
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, false
}

// vlq decodes a variable-length quantity (up to four bytes, 28 bits).
func (r *byteReader) vlq() (uint32, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		v = v<<7 | uint32(b&0x7F)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("variable-length quantity longer than four bytes")
}
