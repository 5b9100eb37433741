/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"math"

	"go.uber.org/atomic"
)

const (
	// MaxInputGain is the upper bound of the input gain control
	MaxInputGain = 2.0
	// MaxOutputVolume is the upper bound of the output volume control
	MaxOutputVolume = 1.0
)

// ProcessingOptions are user-facing voice processing toggles. They are stored
// and reported but no signal processing is attached to them.
type ProcessingOptions struct {
	EchoCancellation       bool
	NoiseSuppression       bool
	AutoGainControl        bool
	VoiceActivityDetection bool
}

// VoiceControls is a ready-made ProcessFunc driven by gain, volume and mute
// controls. Every control is its own atomic scalar so the control thread can
// change one without the real-time thread reading a half-updated set.
type VoiceControls struct {
	inputGain    atomic.Float32
	outputVolume atomic.Float32
	muteInput    atomic.Bool
	muteOutput   atomic.Bool

	echoCancellation       atomic.Bool
	noiseSuppression       atomic.Bool
	autoGainControl        atomic.Bool
	voiceActivityDetection atomic.Bool
}

// NewVoiceControls creates controls at unity gain and full volume, unmuted
func NewVoiceControls() *VoiceControls {
	c := &VoiceControls{}
	c.inputGain.Store(1)
	c.outputVolume.Store(1)
	return c
}

// SetInputGain sets the input gain, clamped to [0, MaxInputGain]
func (c *VoiceControls) SetInputGain(gain float32) {
	c.inputGain.Store(clamp(gain, 0, MaxInputGain))
}

// InputGain returns the current input gain
func (c *VoiceControls) InputGain() float32 {
	return c.inputGain.Load()
}

// SetOutputVolume sets the output volume, clamped to [0, MaxOutputVolume]
func (c *VoiceControls) SetOutputVolume(volume float32) {
	c.outputVolume.Store(clamp(volume, 0, MaxOutputVolume))
}

// OutputVolume returns the current output volume
func (c *VoiceControls) OutputVolume() float32 {
	return c.outputVolume.Load()
}

// SetMuteInput silences the captured signal before it reaches the output
func (c *VoiceControls) SetMuteInput(muted bool) {
	c.muteInput.Store(muted)
}

// MuteInput reports whether input is muted
func (c *VoiceControls) MuteInput() bool {
	return c.muteInput.Load()
}

// SetMuteOutput silences the output entirely
func (c *VoiceControls) SetMuteOutput(muted bool) {
	c.muteOutput.Store(muted)
}

// MuteOutput reports whether output is muted
func (c *VoiceControls) MuteOutput() bool {
	return c.muteOutput.Load()
}

// SetProcessingOptions stores the voice processing toggles
func (c *VoiceControls) SetProcessingOptions(opts ProcessingOptions) {
	c.echoCancellation.Store(opts.EchoCancellation)
	c.noiseSuppression.Store(opts.NoiseSuppression)
	c.autoGainControl.Store(opts.AutoGainControl)
	c.voiceActivityDetection.Store(opts.VoiceActivityDetection)
}

// ProcessingOptions returns the stored voice processing toggles
func (c *VoiceControls) ProcessingOptions() ProcessingOptions {
	return ProcessingOptions{
		EchoCancellation:       c.echoCancellation.Load(),
		NoiseSuppression:       c.noiseSuppression.Load(),
		AutoGainControl:        c.autoGainControl.Load(),
		VoiceActivityDetection: c.voiceActivityDetection.Load(),
	}
}

// Process applies gain and input mute to the mono input, then volume and
// output mute, and writes the result to every output channel.
// Controls are sampled once per period.
func (c *VoiceControls) Process(input, output []float32, frames int) {
	if frames <= 0 {
		return
	}

	gain := c.inputGain.Load()
	volume := c.outputVolume.Load()
	muteIn := c.muteInput.Load()
	muteOut := c.muteOutput.Load()

	channels := len(output) / frames
	frames = min(frames, len(input))

	for i := 0; i < frames; i++ {
		var sample float32
		if !muteIn {
			sample = input[i] * gain
		}
		if muteOut {
			sample = 0
		} else {
			sample *= volume
		}

		for ch := 0; ch < channels; ch++ {
			output[i*channels+ch] = sample
		}
	}
}

// clamp bounds v to [lo, hi]. NaN maps to lo, since min and max propagate it.
func clamp(v, lo, hi float32) float32 {
	if math.IsNaN(float64(v)) {
		return lo
	}
	return max(lo, min(hi, v))
}
