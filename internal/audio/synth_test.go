package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

func TestHallucinationPattern_Escalates(t *testing.T) {
	low := HallucinationPattern(domain.RiskLow, domain.ProfileProfessional)
	medium := HallucinationPattern(domain.RiskMedium, domain.ProfileProfessional)
	high := HallucinationPattern(domain.RiskHigh, domain.ProfileProfessional)
	critical := HallucinationPattern(domain.RiskCritical, domain.ProfileProfessional)

	assert.Less(t, low.TotalDuration(), medium.TotalDuration())
	assert.Less(t, medium.TotalDuration(), high.TotalDuration())
	assert.Less(t, high.TotalDuration(), critical.TotalDuration())
	assert.Less(t, low.Tones[0].Frequency, critical.Tones[0].Frequency)
}

func TestHallucinationPattern_Profiles(t *testing.T) {
	subtle := HallucinationPattern(domain.RiskHigh, domain.ProfileSubtle)
	urgent := HallucinationPattern(domain.RiskHigh, domain.ProfileUrgent)

	assert.Equal(t, Triangle, subtle.Tones[0].Waveform)
	assert.Equal(t, Square, urgent.Tones[0].Waveform)
	assert.Greater(t, urgent.Repeat, subtle.Repeat)

	fallback := HallucinationPattern(domain.RiskHigh, domain.SoundProfile("unknown"))
	assert.Equal(t, Sine, fallback.Tones[0].Waveform)
}

func TestSynthesize_LengthMatchesDuration(t *testing.T) {
	p := Pattern{Name: "t", Tones: []Tone{tone(440, 100, Sine, 1)}, Gap: 50 * time.Millisecond, Repeat: 2}
	samples := Synthesize(p, 0.5, 1000)

	assert.Len(t, samples, 250)
	for _, s := range samples[100:150] {
		assert.Zero(t, s)
	}
}

func TestSynthesize_ZeroVolumeIsSilent(t *testing.T) {
	for _, s := range Synthesize(SystemPattern(ConnectionLost), 0, 8000) {
		require.Zero(t, s)
	}
}

func TestWriteWAV_Header(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, []int16{1, -1, 2}, 8000))

	b := buf.Bytes()
	require.Len(t, b, 44+6)
	assert.Equal(t, "RIFF", string(b[0:4]))
	assert.Equal(t, "WAVE", string(b[8:12]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(b[24:28]))
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(b[40:44]))
}

func TestDeviceOutput(t *testing.T) {
	assert.ErrorIs(t, NewDeviceOutput("", 0).Open(context.Background()), ErrNoDevice)

	path := filepath.Join(t.TempDir(), "alerts.wav")
	out := NewDeviceOutput(path, 8000)
	require.NoError(t, out.Open(context.Background()))
	require.NoError(t, out.Play(SystemPattern(MonitoringStarted), 0.5))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))

	assert.ErrorIs(t, out.Play(SystemPattern(MonitoringStarted), 0.5), ErrNoDevice)
}
