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
package main

import (
	"context"
	"flag"
	"math/rand"
	"runtime"

	"github.com/cheggaaa/pb"
	"github.com/google-research/binaural/tools/bincorr"
	"github.com/google-research/binaural/tools/workerpool"
)

var (
	jobs        = flag.Int("jobs", 10000, "Number of correlations to run.")
	numSamples  = flag.Int("num_samples", 4800, "Samples in each correlated signal.")
	numChannels = flag.Int("num_channels", 32, "Channels in each correlated signal.")
)

func randomSignal(r *rand.Rand) bincorr.Signal {
	signal := bincorr.NewSignal(*numSamples, *numChannels)
	for _, sample := range signal {
		for _, ears := range sample {
			ears[bincorr.Left] = r.Float64()
			ears[bincorr.Right] = r.Float64()
		}
	}
	return signal
}

func main() {
	flag.Parse()
	params := bincorr.DefaultParams(48000)
	params.Workers = 2
	wp := workerpool.New(context.Background(), runtime.NumCPU())
	bar := pb.StartNew(*jobs).Prefix("Correlating")
	for i := 0; i < *jobs; i++ {
		seed := int64(i)
		wp.Go(func() error {
			if _, err := bincorr.CorrelateContext(wp.Context(), randomSignal(rand.New(rand.NewSource(seed))), params); err != nil {
				return err
			}
			bar.Increment()
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		panic(err)
	}
	bar.Finish()
}
