/*
 * Copyright 2020 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 *     Unless required by applicable law or agreed to in writing, software
 *     distributed under the License is distributed on an "AS IS" BASIS,
 *     WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *     See the License for the specific language governing permissions and
 *     limitations under the License.
 */
package bincorr

import "math"

// sensitivityProfiles returns the monaural sensitivity for each delay position of
// the FromLeft and FromRight lines.
//
// With d the distance from the input end of a line and D = size-1 the distance of
// its far end, p(d) = floor + (1-floor) * exp(-(D-d)/decay): 1 at the far end,
// decaying towards floor at the input end. The FromRight profile is the FromLeft
// profile reversed, since the right ear feeds the head of its line.
func sensitivityProfiles(size int, floor, decay float64) (left, right []float64) {
	left = make([]float64, size)
	right = make([]float64, size)
	if size == 1 {
		left[0], right[0] = floor, floor
		return left, right
	}
	far := float64(size - 1)
	for k := range left {
		// FromLeft is fed at the tail.
		d := float64(size - 1 - k)
		p := floor + (1-floor)*math.Exp(-(far-d)/decay)
		left[k] = p
		right[size-1-k] = p
	}
	return left, right
}
