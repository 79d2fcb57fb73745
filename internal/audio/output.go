package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

var ErrNoDevice = errors.New("audio: no output device configured")

// Output — платформенный аудио-выход (аналог AudioContext).
// Open может завершиться ошибкой: менеджер тогда остается молчаливым no-op.
type Output interface {
	Open(ctx context.Context) error
	Play(p Pattern, volume float64) error
	Close() error
}

// DeviceOutput синтезирует паттерн в WAV и пишет его в файл устройства:
// FIFO, который читает `aplay`, или spool-файл для внешнего плеера.
type DeviceOutput struct {
	path       string
	sampleRate int

	mu   sync.Mutex
	file *os.File
}

func NewDeviceOutput(path string, sampleRate int) *DeviceOutput {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &DeviceOutput{path: path, sampleRate: sampleRate}
}

func (o *DeviceOutput) Open(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file != nil {
		return nil // уже открыт (resume)
	}
	if o.path == "" {
		return ErrNoDevice
	}
	f, err := os.OpenFile(o.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("audio: open device %s: %w", o.path, err)
	}
	o.file = f
	return nil
}

func (o *DeviceOutput) Play(p Pattern, volume float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return ErrNoDevice
	}
	w := bufio.NewWriter(o.file)
	if err := WriteWAV(w, Synthesize(p, volume, o.sampleRate), o.sampleRate); err != nil {
		return err
	}
	return w.Flush()
}

func (o *DeviceOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}
