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

// SignalMeter holds the most recent input and output RMS levels.
// The real-time thread is the only writer; any goroutine may read.
// Readers can observe the previous period's value while a new one is
// being stored, never a torn one.
type SignalMeter struct {
	input  atomic.Float32
	output atomic.Float32
}

// Input returns the RMS level of the last processed input period
func (m *SignalMeter) Input() float32 {
	return m.input.Load()
}

// Output returns the RMS level of the last processed output period
func (m *SignalMeter) Output() float32 {
	return m.output.Load()
}

// Levels returns both slots. The pair may straddle a period boundary.
func (m *SignalMeter) Levels() (input, output float32) {
	return m.input.Load(), m.output.Load()
}

func (m *SignalMeter) storeInput(level float32) {
	m.input.Store(level)
}

func (m *SignalMeter) storeOutput(level float32) {
	m.output.Store(level)
}

// rms returns sqrt(mean(sample^2)) over every sample in buf
func rms(buf []float32) float32 {
	if len(buf) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range buf {
		v := float64(sample)
		sum += v * v
	}

	return float32(math.Sqrt(sum / float64(len(buf))))
}

// frameRMS averages the channels of each frame before squaring, then divides
// the sum by the frame count. For stereo output this reads lower than rms()
// would over the same interleaved samples whenever the channels differ;
// meters depend on this scaling, keep it.
func frameRMS(buf []float32, frames, channels int) float32 {
	if frames <= 0 || channels <= 0 {
		return 0
	}
	frames = min(frames, len(buf)/channels)
	if frames == 0 {
		return 0
	}

	scale := 1 / float64(channels)
	var sum float64
	for f := 0; f < frames; f++ {
		var avg float64
		for _, sample := range buf[f*channels : (f+1)*channels] {
			avg += float64(sample)
		}
		avg *= scale
		sum += avg * avg
	}

	return float32(math.Sqrt(sum / float64(frames)))
}

// PeakHold tracks the highest levels seen since the last Reset.
// Observe matches LevelObserver and is safe to install on the real-time thread.
type PeakHold struct {
	input  atomic.Float32
	output atomic.Float32
}

// Observe raises the held peaks to the given levels
func (p *PeakHold) Observe(inputLevel, outputLevel float32) {
	raise(&p.input, inputLevel)
	raise(&p.output, outputLevel)
}

// Peaks returns the held peaks without clearing them
func (p *PeakHold) Peaks() (input, output float32) {
	return p.input.Load(), p.output.Load()
}

// Reset returns the held peaks and clears them
func (p *PeakHold) Reset() (input, output float32) {
	return p.input.Swap(0), p.output.Swap(0)
}

func raise(slot *atomic.Float32, level float32) {
	for {
		current := slot.Load()
		if level <= current {
			return
		}
		if slot.CompareAndSwap(current, level) {
			return
		}
	}
}
