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
	"go.uber.org/atomic"
)

// ProcessFunc transforms one period of audio in place. input holds frames mono
// samples, output holds frames interleaved stereo samples already zeroed.
// It runs on the real-time thread: it must not allocate, lock or block.
type ProcessFunc func(input, output []float32, frames int)

// LevelObserver receives the input and output RMS levels at the end of every
// period. It runs on the real-time thread under the same rules as ProcessFunc.
type LevelObserver func(inputLevel, outputLevel float32)

// Callbacks are swapped in whole behind a pointer so the real-time thread
// never sees a partially installed value.
type processSlot struct {
	fn ProcessFunc
}

type observerSlot struct {
	fn LevelObserver
}

// periodProcessor is the per-period work executed by the driver thread
type periodProcessor struct {
	meter          *SignalMeter
	outputChannels int

	chain    atomic.Pointer[processSlot]
	observer atomic.Pointer[observerSlot]

	periods atomic.Uint64
	faults  atomic.Uint64
}

func newPeriodProcessor(meter *SignalMeter, outputChannels int) *periodProcessor {
	return &periodProcessor{
		meter:          meter,
		outputChannels: outputChannels,
	}
}

func (p *periodProcessor) installProcessing(fn ProcessFunc) {
	if fn == nil {
		p.chain.Store(nil)
		return
	}
	p.chain.Store(&processSlot{fn: fn})
}

func (p *periodProcessor) installObserver(fn LevelObserver) {
	if fn == nil {
		p.observer.Store(nil)
		return
	}
	p.observer.Store(&observerSlot{fn: fn})
}

// process runs one period. A panic in caller code degrades to silence:
// there is no error channel out of the driver thread.
func (p *periodProcessor) process(input, output []float32) {
	defer func() {
		if r := recover(); r != nil {
			clear(output)
			p.meter.storeOutput(0)
			p.faults.Inc()
		}
	}()

	p.periods.Inc()
	clear(output)

	frames := len(output) / p.outputChannels
	p.meter.storeInput(rms(input))

	if slot := p.chain.Load(); slot != nil {
		slot.fn(input, output, frames)
	} else {
		passthrough(input, output, frames, p.outputChannels)
	}

	p.meter.storeOutput(frameRMS(output, frames, p.outputChannels))

	if slot := p.observer.Load(); slot != nil {
		slot.fn(p.meter.Levels())
	}
}

// passthrough copies each mono input sample to every output channel
func passthrough(input, output []float32, frames, channels int) {
	frames = min(frames, len(input))
	for i := 0; i < frames; i++ {
		sample := input[i]
		frame := output[i*channels : (i+1)*channels]
		for ch := range frame {
			frame[ch] = sample
		}
	}
}
