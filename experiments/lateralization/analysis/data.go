/* data contains definitions of data formats for the lateralization
 * experiment, and the analysis producing them.
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
package analysis

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google-research/binaural/tools/bincorr"
	"github.com/google-research/binaural/tools/periphery"
	"github.com/google-research/binaural/tools/synthesize/signals"
	"gonum.org/v1/gonum/stat"

	tf "github.com/ryszard/tfutils/proto/tensorflow/core/example"
)

const (
	// LateralizationEntryType identifies Lateralization entries in a stimulus log.
	LateralizationEntryType = "Lateralization"
)

// Stimulus identifies the sound that was analyzed.
type Stimulus struct {
	// ID is the unique ID for this stimulus.
	ID string
	// Binaural describes the synthesized sound, if it was synthesized.
	Binaural signals.Binaural
	// DurationSeconds is how much of the stimulus was synthesized.
	DurationSeconds float64
	// WAVPath is the file the sound was read from, if it wasn't synthesized.
	WAVPath string
}

// Model defines the parameters of the auditory model used in the analysis.
type Model struct {
	// Periphery configures the filterbank and hair cell model.
	Periphery periphery.Params
	// Correlator configures the binaural delay line.
	Correlator bincorr.Params
}

// Analysis contains the output of the binaural model.
type Analysis struct {
	// CenterFrequencies[channelIdx] is the center frequency of each channel.
	CenterFrequencies []float64
	// Lags[delayIdx] is the relative delay in milliseconds of each delay position,
	// negative when the left ear leads.
	Lags []float64
	// CentroidsMS[frameIdx][channelIdx] is the correlation centroid in milliseconds.
	CentroidsMS [][]float64
	// MeanCorrelation[delayIdx][channelIdx] is the correlation averaged over all frames.
	MeanCorrelation [][]float64
	// MeanCentroidMS is the centroid averaged over all frames and channels.
	MeanCentroidMS float64
}

// Lateralization describes a stimulus and how the model lateralized it.
type Lateralization struct {
	// EntryType is used to filter out Lateralization entries from other events in a log.
	EntryType string
	// Stimulus describes the sound analyzed.
	Stimulus Stimulus
	// Model describes the model configuration.
	Model Model
	// Analysis contains the model output.
	Analysis Analysis
}

// Analyze runs sound through the periphery and correlator and returns the analysis.
// The correlator sample rate is taken from the sound.
func Analyze(ctx context.Context, sound signals.Stereo, model Model) (Analysis, error) {
	excitation, centers, err := periphery.Process(ctx, sound, model.Periphery)
	if err != nil {
		return Analysis{}, err
	}
	params := model.Correlator
	params.SampleRate = sound.Rate
	corr, err := bincorr.CorrelateContext(ctx, excitation, params)
	if err != nil {
		return Analysis{}, err
	}
	result := Analysis{
		CenterFrequencies: make([]float64, len(centers)),
		Lags:              corr.Lags(),
		CentroidsMS:       corr.CentroidMS(sound.Rate),
		MeanCorrelation:   corr.MeanFrame(),
	}
	for chanIdx, fc := range centers {
		result.CenterFrequencies[chanIdx] = float64(fc)
	}
	msPerSample := 1000 / float64(sound.Rate)
	for delayIdx := range result.Lags {
		result.Lags[delayIdx] *= msPerSample
	}
	allCentroids := []float64{}
	for _, frame := range result.CentroidsMS {
		allCentroids = append(allCentroids, frame...)
	}
	result.MeanCentroidMS = stat.Mean(allCentroids, nil)
	return result, nil
}

func (l *Lateralization) toTFExample(val reflect.Value, namePrefix string, ex *tf.Example) error {
	if !val.IsValid() {
		return nil
	}
	typ := val.Type()
	switch typ.Kind() {
	case reflect.String:
		ex.Features.Feature[namePrefix] = &tf.Feature{&tf.Feature_BytesList{&tf.BytesList{[][]byte{[]byte(val.String())}}}}
	case reflect.Float64:
		ex.Features.Feature[namePrefix] = &tf.Feature{&tf.Feature_FloatList{&tf.FloatList{[]float32{float32(val.Float())}}}}
	case reflect.Int, reflect.Int64:
		ex.Features.Feature[namePrefix] = &tf.Feature{&tf.Feature_Int64List{&tf.Int64List{[]int64{val.Int()}}}}
	case reflect.Bool:
		b := int64(0)
		if val.Bool() {
			b = 1
		}
		ex.Features.Feature[namePrefix] = &tf.Feature{&tf.Feature_Int64List{&tf.Int64List{[]int64{b}}}}
	case reflect.Slice:
		elemTyp := typ.Elem()
		switch elemTyp.Kind() {
		case reflect.Struct:
			fallthrough
		case reflect.Slice:
			for elemIdx := 0; elemIdx < val.Len(); elemIdx++ {
				if err := l.toTFExample(val.Index(elemIdx), fmt.Sprintf("%v[%v]", namePrefix, elemIdx), ex); err != nil {
					return err
				}
			}
		case reflect.Float64:
			floats := make([]float32, val.Len())
			for idx := 0; idx < val.Len(); idx++ {
				floats[idx] = float32(val.Index(idx).Float())
			}
			ex.Features.Feature[namePrefix] = &tf.Feature{&tf.Feature_FloatList{&tf.FloatList{floats}}}
		case reflect.Interface:
			for elemIdx := 0; elemIdx < val.Len(); elemIdx++ {
				if err := l.toTFExample(val.Index(elemIdx).Elem(), fmt.Sprintf("%v[%v]", namePrefix, elemIdx), ex); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%v %v is of an invalid slice type %v", namePrefix, val.Interface(), typ)
		}
	case reflect.Map:
		iter := val.MapRange()
		for iter.Next() {
			if err := l.toTFExample(iter.Value(), namePrefix+"."+fmt.Sprint(iter.Key()), ex); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for fieldIdx := 0; fieldIdx < typ.NumField(); fieldIdx++ {
			fieldTyp := typ.Field(fieldIdx)
			if fieldTyp.Tag.Get("proto") != "-" {
				fieldVal := val.Field(fieldIdx)
				if err := l.toTFExample(fieldVal, namePrefix+"."+fieldTyp.Name, ex); err != nil {
					return err
				}
			}
		}
	case reflect.Interface, reflect.Ptr:
		if err := l.toTFExample(val.Elem(), namePrefix, ex); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%v %v is of an invalid type %v", namePrefix, val.Interface(), typ)
	}
	return nil
}

// ToTFExample converts a Lateralization to a tf.Example for compact logging.
func (l *Lateralization) ToTFExample() (*tf.Example, error) {
	ex := &tf.Example{
		Features: &tf.Features{
			Feature: map[string]*tf.Feature{},
		},
	}
	if err := l.toTFExample(reflect.ValueOf(*l), "Lateralization", ex); err != nil {
		return nil, err
	}
	return ex, nil
}
