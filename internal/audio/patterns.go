package audio

import (
	"time"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

// Waveform — форма волны осциллятора.
type Waveform string

const (
	Sine     Waveform = "sine"
	Square   Waveform = "square"
	Triangle Waveform = "triangle"
	Sawtooth Waveform = "sawtooth"
)

// Tone — одна нота паттерна.
type Tone struct {
	Frequency float64
	Duration  time.Duration
	Waveform  Waveform
	Gain      float64 // множитель громкости 0..1 поверх пользовательского volume
}

// Pattern — последовательность тонов с паузами, повторяемая Repeat раз.
type Pattern struct {
	Name   string
	Tones  []Tone
	Gap    time.Duration // пауза между тонами
	Repeat int
}

// TotalDuration — длительность воспроизведения с учетом пауз.
func (p Pattern) TotalDuration() time.Duration {
	repeat := p.Repeat
	if repeat < 1 {
		repeat = 1
	}
	var d time.Duration
	for i := 0; i < repeat; i++ {
		for j, t := range p.Tones {
			d += t.Duration
			if i < repeat-1 || j < len(p.Tones)-1 {
				d += p.Gap
			}
		}
	}
	return d
}

// SystemAlert — фиксированные системные события со своими звуками.
type SystemAlert string

const (
	ConnectionLost     SystemAlert = "connection_lost"
	ConnectionRestored SystemAlert = "connection_restored"
	MonitoringStarted  SystemAlert = "monitoring_started"
	MonitoringStopped  SystemAlert = "monitoring_stopped"
)

func (k SystemAlert) Valid() bool {
	switch k {
	case ConnectionLost, ConnectionRestored, MonitoringStarted, MonitoringStopped:
		return true
	}
	return false
}

func tone(freq float64, ms int, w Waveform, gain float64) Tone {
	return Tone{Frequency: freq, Duration: time.Duration(ms) * time.Millisecond, Waveform: w, Gain: gain}
}

// profileShape задает базовые параметры профиля: частотный множитель, форму волны,
// громкость и сколько повторов добавить к уровню.
type profileShape struct {
	freqMul  float64
	waveform Waveform
	gain     float64
	extra    int
	lengthMs int
}

var profiles = map[domain.SoundProfile]profileShape{
	domain.ProfileProfessional: {freqMul: 1.0, waveform: Sine, gain: 0.8, extra: 0, lengthMs: 0},
	domain.ProfileSubtle:       {freqMul: 0.75, waveform: Triangle, gain: 0.5, extra: -1, lengthMs: -40},
	domain.ProfileUrgent:       {freqMul: 1.25, waveform: Square, gain: 1.0, extra: 1, lengthMs: 50},
}

// HallucinationPattern строит паттерн для уровня риска и профиля.
// Частота, длительность и количество повторов растут с уровнем.
func HallucinationPattern(level domain.RiskLevel, profile domain.SoundProfile) Pattern {
	shape, ok := profiles[profile]
	if !ok {
		shape = profiles[domain.ProfileProfessional]
	}

	var base []Tone
	var gap time.Duration
	repeat := 1
	switch level {
	case domain.RiskCritical:
		base = []Tone{tone(880, 250, shape.waveform, shape.gain), tone(660, 250, shape.waveform, shape.gain)}
		gap = 80 * time.Millisecond
		repeat = 3
	case domain.RiskHigh:
		base = []Tone{tone(660, 200, shape.waveform, shape.gain)}
		gap = 100 * time.Millisecond
		repeat = 3
	case domain.RiskMedium:
		base = []Tone{tone(520, 150, shape.waveform, shape.gain)}
		gap = 120 * time.Millisecond
		repeat = 2
	default:
		base = []Tone{tone(440, 150, shape.waveform, shape.gain*0.8)}
		gap = 0
		repeat = 1
	}

	repeat += shape.extra
	if repeat < 1 {
		repeat = 1
	}
	for i := range base {
		base[i].Frequency *= shape.freqMul
		d := base[i].Duration + time.Duration(shape.lengthMs)*time.Millisecond
		if d < 60*time.Millisecond {
			d = 60 * time.Millisecond
		}
		base[i].Duration = d
	}

	return Pattern{
		Name:   "hallucination-" + string(level) + "-" + string(profile),
		Tones:  base,
		Gap:    gap,
		Repeat: repeat,
	}
}

// SystemPattern — звуки системных событий. Не зависят от профиля.
func SystemPattern(kind SystemAlert) Pattern {
	var tones []Tone
	switch kind {
	case ConnectionLost:
		tones = []Tone{tone(660, 180, Sine, 0.7), tone(440, 260, Sine, 0.7)}
	case ConnectionRestored:
		tones = []Tone{tone(440, 150, Sine, 0.6), tone(660, 200, Sine, 0.6)}
	case MonitoringStarted:
		tones = []Tone{tone(523.25, 120, Sine, 0.5), tone(659.25, 120, Sine, 0.5), tone(783.99, 180, Sine, 0.5)}
	case MonitoringStopped:
		tones = []Tone{tone(783.99, 120, Sine, 0.5), tone(523.25, 220, Sine, 0.5)}
	}
	return Pattern{Name: "system-" + string(kind), Tones: tones, Gap: 60 * time.Millisecond, Repeat: 1}
}
