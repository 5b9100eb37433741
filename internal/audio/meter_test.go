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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		expected float32
		epsilon  float32
	}{
		{
			name:     "empty buffer",
			input:    []float32{},
			expected: 0.0,
			epsilon:  0.000001,
		},
		{
			name:     "zero samples",
			input:    make([]float32, FramesPerPeriod),
			expected: 0.0,
			epsilon:  0.000001,
		},
		{
			name:     "constant positive",
			input:    []float32{0.25, 0.25, 0.25, 0.25},
			expected: 0.25,
			epsilon:  0.000001,
		},
		{
			name:     "constant negative",
			input:    []float32{-0.5, -0.5, -0.5},
			expected: 0.5,
			epsilon:  0.000001,
		},
		{
			name:     "mixed samples",
			input:    []float32{0.5, -0.5, 0.3, -0.3},
			expected: 0.412, // sqrt((0.25 + 0.25 + 0.09 + 0.09) / 4) = sqrt(0.17)
			epsilon:  0.001,
		},
		{
			name:     "full scale",
			input:    []float32{1, -1, 1, -1},
			expected: 1.0,
			epsilon:  0.000001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, rms(tt.input), float64(tt.epsilon))
		})
	}
}

func TestFrameRMS(t *testing.T) {
	t.Run("identical_channels_match_mono", func(t *testing.T) {
		buf := []float32{0.5, 0.5, -0.5, -0.5, 0.5, 0.5}
		assert.InDelta(t, 0.5, frameRMS(buf, 3, 2), 1e-6)
	})

	t.Run("channels_are_averaged_before_squaring", func(t *testing.T) {
		// one frame: left 1, right 0 -> average 0.5
		buf := []float32{1, 0}
		assert.InDelta(t, 0.5, frameRMS(buf, 1, 2), 1e-6)
		assert.Greater(t, rms(buf), frameRMS(buf, 1, 2), "interleaved rms reads higher")
	})

	t.Run("opposite_channels_cancel", func(t *testing.T) {
		buf := []float32{0.8, -0.8, 0.8, -0.8}
		assert.InDelta(t, 0.0, frameRMS(buf, 2, 2), 1e-6)
	})

	t.Run("degenerate_layouts", func(t *testing.T) {
		assert.Zero(t, frameRMS(nil, 4, 2))
		assert.Zero(t, frameRMS([]float32{1, 1}, 0, 2))
		assert.Zero(t, frameRMS([]float32{1, 1}, 1, 0))
	})

	t.Run("frames_clamped_to_buffer", func(t *testing.T) {
		buf := []float32{0.5, 0.5}
		assert.InDelta(t, 0.5, frameRMS(buf, 10, 2), 1e-6)
	})
}

func TestSignalMeter(t *testing.T) {
	var m SignalMeter

	in, out := m.Levels()
	assert.Zero(t, in, "fresh meter reads zero input")
	assert.Zero(t, out, "fresh meter reads zero output")

	m.storeInput(0.3)
	m.storeOutput(0.7)
	assert.Equal(t, float32(0.3), m.Input())
	assert.Equal(t, float32(0.7), m.Output())

	t.Run("concurrent_reads_never_tear", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			for i := 0; i < 10000; i++ {
				m.storeInput(float32(i%2) * 0.5)
			}
		}()

		go func() {
			defer wg.Done()
			for i := 0; i < 10000; i++ {
				v := m.Input()
				if v != 0 && v != 0.5 {
					t.Errorf("torn read: %f", v)
					return
				}
			}
		}()

		wg.Wait()
	})
}

func TestPeakHold(t *testing.T) {
	var p PeakHold

	p.Observe(0.2, 0.1)
	p.Observe(0.5, 0.05)
	p.Observe(0.3, 0.4)

	in, out := p.Peaks()
	assert.Equal(t, float32(0.5), in)
	assert.Equal(t, float32(0.4), out)

	in, out = p.Reset()
	assert.Equal(t, float32(0.5), in, "reset returns the held peak")
	assert.Equal(t, float32(0.4), out)

	in, out = p.Peaks()
	assert.Zero(t, in)
	assert.Zero(t, out)

	t.Run("concurrent_observers", func(t *testing.T) {
		var hold PeakHold
		var wg sync.WaitGroup

		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 1000; i++ {
					level := float32(g*1000+i) / 8000
					hold.Observe(level, float32(math.Min(float64(level), 0.5)))
				}
			}(g)
		}
		wg.Wait()

		in, out := hold.Peaks()
		assert.Equal(t, float32(7999)/8000, in)
		assert.Equal(t, float32(0.5), out)
	})
}
