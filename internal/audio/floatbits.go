// SPDX-License-Identifier: MIT

package audio

import "math"

// mathFloat32bits and bitsFloat32 let VolumeNode/MasterVolume store a
// float32 gain in an atomic.Uint32 without a mutex.
func mathFloat32bits(v float32) uint32 { return math.Float32bits(v) }
func bitsFloat32(b uint32) float32     { return math.Float32frombits(b) }
