/* lateralize runs binaural stimuli through the periphery and the delay line
 * correlator, and writes the resulting lateralizations as tf.Examples.
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
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/cheggaaa/pb"
	"github.com/google-research/binaural/experiments/lateralization/analysis"
	"github.com/google-research/binaural/tools/bincorr"
	"github.com/google-research/binaural/tools/periphery"
	"github.com/google-research/binaural/tools/synthesize/signals"
	"github.com/ryszard/tfutils/go/tfrecord"
	"google.golang.org/protobuf/proto"

	proto1 "github.com/golang/protobuf/proto"
)

var (
	stimuliJSON         = flag.String("stimuli_json", "", "Path to a file with one analysis.Stimulus JSON per line.")
	wavInput            = flag.String("wav_input", "", "Path to a stereo WAV file to analyze instead of synthesized stimuli.")
	output              = flag.String("output", "", "Path to the tfrecord file the lateralizations will be written to.")
	sampleRate          = flag.Float64("sample_rate", 48000, "Sample rate to synthesize stimuli at.")
	lowFrequency        = flag.Float64("low_frequency", 200, "Center frequency of the lowest channel.")
	highFrequency       = flag.Float64("high_frequency", 5000, "Center frequency of the highest channel.")
	numChannels         = flag.Int("num_channels", 24, "Number of channels, equally spaced on the ERB-rate scale.")
	inhibitionFactor    = flag.Float64("inhibition_factor", 0.3, "Contralateral inhibition strength, c_s.")
	sensitivityFloor    = flag.Float64("sensitivity_floor", 0.035, "Monaural sensitivity at the input end of the delay line, w_f.")
	sensitivityDecay    = flag.Float64("sensitivity_decay", 6, "Decay of the monaural sensitivity in delay positions, M_f.")
	integrationWindowMS = flag.Float64("integration_window_ms", 5, "Length of each output frame in milliseconds.")
	infiniteWindow      = flag.Bool("infinite_window", false, "Whether to integrate each stimulus into a single frame.")
	onsetOffset         = flag.Int("onset_offset", 1, "Number of leading samples to skip before integration starts.")
	workers             = flag.Int("workers", 0, "Number of channels processed concurrently. 0 means one per CPU.")
)

func model() analysis.Model {
	p := periphery.DefaultParams()
	p.LowFrequency = signals.Hz(*lowFrequency)
	p.HighFrequency = signals.Hz(*highFrequency)
	p.NumChannels = *numChannels
	p.Workers = *workers

	c := bincorr.DefaultParams(signals.Hz(*sampleRate))
	c.InhibitionFactor = *inhibitionFactor
	c.SensitivityFloor = *sensitivityFloor
	c.SensitivityDecay = *sensitivityDecay
	c.IntegrationWindowMS = *integrationWindowMS
	if *infiniteWindow {
		c.IntegrationWindowMS = bincorr.InfiniteWindow
	}
	c.OnsetOffset = *onsetOffset
	c.Workers = *workers
	return analysis.Model{Periphery: p, Correlator: c}
}

func readStimuli(path string) ([]analysis.Stimulus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	result := []analysis.Stimulus{}
	lines := bufio.NewScanner(f)
	for lines.Scan() {
		line := lines.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		stimulus := analysis.Stimulus{}
		if err := json.Unmarshal([]byte(line), &stimulus); err != nil {
			return nil, fmt.Errorf("unable to parse %q: %v", line, err)
		}
		if stimulus.DurationSeconds <= 0 {
			stimulus.DurationSeconds = 1
		}
		result = append(result, stimulus)
	}
	return result, lines.Err()
}

func write(w io.Writer, l *analysis.Lateralization) error {
	example, err := l.ToTFExample()
	if err != nil {
		return err
	}
	encoded, err := proto.Marshal(proto1.MessageV2(example))
	if err != nil {
		return err
	}
	return tfrecord.Write(w, encoded)
}

func main() {
	flag.Parse()
	if (*stimuliJSON == "") == (*wavInput == "") || *output == "" {
		flag.Usage()
		os.Exit(1)
	}

	outputFile, err := os.Create(*output)
	if err != nil {
		log.Panic(err)
	}
	defer outputFile.Close()

	ctx := context.Background()
	m := model()

	if *wavInput != "" {
		wavFile, err := os.Open(*wavInput)
		if err != nil {
			log.Panic(err)
		}
		defer wavFile.Close()
		sound, err := signals.ReadWAV(wavFile)
		if err != nil {
			log.Panic(err)
		}
		m.Correlator.SampleRate = sound.Rate
		result, err := analysis.Analyze(ctx, sound, m)
		if err != nil {
			log.Panic(err)
		}
		l := &analysis.Lateralization{
			EntryType: analysis.LateralizationEntryType,
			Stimulus:  analysis.Stimulus{ID: *wavInput, WAVPath: *wavInput},
			Model:     m,
			Analysis:  result,
		}
		if err := write(outputFile, l); err != nil {
			log.Panic(err)
		}
		fmt.Printf("%v lateralized at %.3fms\n", *wavInput, result.MeanCentroidMS)
		return
	}

	stimuli, err := readStimuli(*stimuliJSON)
	if err != nil {
		log.Panic(err)
	}
	bar := pb.StartNew(len(stimuli)).Prefix("Lateralizing")
	for _, stimulus := range stimuli {
		sound, err := stimulus.Binaural.SampleStereo(signals.TimeStretch{FromInclusive: 0, ToExclusive: signals.Seconds(stimulus.DurationSeconds)}, signals.Hz(*sampleRate))
		if err != nil {
			log.Panicf("Unable to synthesize %+v: %v", stimulus, err)
		}
		result, err := analysis.Analyze(ctx, sound, m)
		if err != nil {
			log.Panicf("Unable to analyze %+v: %v", stimulus, err)
		}
		l := &analysis.Lateralization{
			EntryType: analysis.LateralizationEntryType,
			Stimulus:  stimulus,
			Model:     m,
			Analysis:  result,
		}
		if err := write(outputFile, l); err != nil {
			log.Panic(err)
		}
		bar.Increment()
	}
	bar.Finish()
	log.Printf("Wrote %v lateralizations to %v", len(stimuli), *output)
}
