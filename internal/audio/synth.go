package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	DefaultSampleRate = 22050
	envelope          = 10 * time.Millisecond // attack/release против щелчков
)

// Synthesize рендерит паттерн в моно 16-bit PCM. Паузы заполняются тишиной.
func Synthesize(p Pattern, volume float64, sampleRate int) []int16 {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	volume = math.Max(0, math.Min(1, volume))

	total := int(p.TotalDuration().Seconds() * float64(sampleRate))
	out := make([]int16, 0, total)

	repeat := p.Repeat
	if repeat < 1 {
		repeat = 1
	}
	gapSamples := int(p.Gap.Seconds() * float64(sampleRate))

	for i := 0; i < repeat; i++ {
		for j, t := range p.Tones {
			out = append(out, renderTone(t, volume, sampleRate)...)
			if i < repeat-1 || j < len(p.Tones)-1 {
				out = append(out, make([]int16, gapSamples)...)
			}
		}
	}
	return out
}

func renderTone(t Tone, volume float64, sampleRate int) []int16 {
	n := int(t.Duration.Seconds() * float64(sampleRate))
	env := int(envelope.Seconds() * float64(sampleRate))
	if env*2 > n {
		env = n / 2
	}
	amp := volume * t.Gain * math.MaxInt16

	buf := make([]int16, n)
	for i := 0; i < n; i++ {
		phase := math.Mod(t.Frequency*float64(i)/float64(sampleRate), 1)
		s := oscillate(t.Waveform, phase)

		g := 1.0
		if env > 0 {
			if i < env {
				g = float64(i) / float64(env)
			} else if i >= n-env {
				g = float64(n-1-i) / float64(env)
			}
		}
		buf[i] = int16(s * g * amp)
	}
	return buf
}

// oscillate возвращает значение волны в [-1,1] для фазы в [0,1).
func oscillate(w Waveform, phase float64) float64 {
	switch w {
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Triangle:
		return 1 - 4*math.Abs(phase-0.5)
	case Sawtooth:
		return 2*phase - 1
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

// WriteWAV пишет RIFF/WAVE заголовок и PCM-данные (моно, 16 бит).
func WriteWAV(w io.Writer, samples []int16, sampleRate int) error {
	dataSize := uint32(len(samples) * 2)
	header := []interface{}{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),             // размер fmt-чанка
		uint16(1),              // PCM
		uint16(1),              // моно
		uint32(sampleRate),     // sample rate
		uint32(sampleRate * 2), // byte rate
		uint16(2),              // block align
		uint16(16),             // bits per sample
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("audio: write wav header: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}
