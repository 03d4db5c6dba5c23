/* The synthesize command synthesizes binaural stimuli as stereo WAV files.
 *
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
	"encoding/json"
	"flag"
	"os"

	"github.com/google-research/binaural/tools/synthesize/signals"
)

var (
	stimulusJSON    = flag.String("stimulus_json", "", "The binaural stimulus to synthesize, given as a Binaural JSON.")
	sampleRate      = flag.Float64("sample_rate", 48000.0, "Sample rate to use when synthesizing.")
	durationSeconds = flag.Float64("duration_seconds", 1.0, "Number of seconds to synthesize.")
	destination     = flag.String("destination", "", "Stereo WAV file to store the synthesized buffer in.")
)

func main() {
	flag.Parse()
	if *stimulusJSON == "" || *destination == "" {
		flag.Usage()
		os.Exit(1)
	}

	stimulus := &signals.Binaural{}
	if err := json.Unmarshal([]byte(*stimulusJSON), stimulus); err != nil {
		panic(err)
	}

	writer, err := os.Create(*destination)
	if err != nil {
		panic(err)
	}
	defer writer.Close()

	stereo, err := stimulus.SampleStereo(signals.TimeStretch{0, signals.Seconds(*durationSeconds)}, signals.Hz(*sampleRate))
	if err != nil {
		panic(err)
	}

	if err := stereo.WriteWAV(writer); err != nil {
		panic(err)
	}
}
