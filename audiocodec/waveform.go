package audiocodec

import (
	"fmt"
	"io"
	"math"

	"github.com/asticode/go-astiav"
)

// Waveform decodes source through a mono s16 filter graph and reduces it
// to a fixed-length peak vector: each bucket's value is the maximum
// absolute sample magnitude observed in that fraction of the stream,
// normalized to [0, 1].
func Waveform(source string, segments int) ([]float64, error) {
	if segments <= 0 {
		return nil, fmt.Errorf("audiocodec: waveform: segments must be positive")
	}

	container, err := Open(source)
	if err != nil {
		return nil, fmt.Errorf("audiocodec: waveform open: %w", err)
	}
	defer container.Close()

	fg, err := newWaveformFilterGraph(container.SampleRate(), container.SampleFormat(), container.ChannelLayout())
	if err != nil {
		return nil, err
	}
	defer fg.free()

	peaks := make([]float64, segments)
	var totalSamples, processedSamples int64

	next := container.Frames()
	filtered := astiav.AllocFrame()
	defer filtered.Free()

	var samples []int16
	for {
		frame, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("audiocodec: waveform decode: %w", err)
		}
		if err := fg.sources[0].BuffersrcAddFrame(frame, astiav.NewBuffersrcFlags()); err != nil {
			return nil, fmt.Errorf("audiocodec: waveform feed filter graph: %w", err)
		}
		for {
			if err := fg.sink.BuffersinkGetFrame(filtered, astiav.NewBuffersinkFlags()); err != nil {
				if errIsAgainOrEOF(err) {
					break
				}
				return nil, fmt.Errorf("audiocodec: waveform pull sink frame: %w", err)
			}
			samples = append(samples, int16Samples(filtered)...)
			filtered.Unref()
		}
	}

	totalSamples = int64(len(samples))
	if totalSamples == 0 {
		return peaks, nil
	}

	samplesPerBucket := float64(totalSamples) / float64(segments)
	bucket := 0
	var max int16
	nextBoundary := samplesPerBucket
	for i, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > max {
			max = s
		}
		processedSamples++
		if float64(i+1) >= nextBoundary && bucket < segments {
			peaks[bucket] = float64(max) / float64(math.MaxInt16)
			bucket++
			nextBoundary += samplesPerBucket
			max = 0
		}
	}
	if bucket < segments {
		peaks[bucket] = float64(max) / float64(math.MaxInt16)
	}
	return peaks, nil
}

func int16Samples(frame *astiav.Frame) []int16 {
	data, err := frame.Data().Bytes(1)
	if err != nil {
		return nil
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return out
}

func newWaveformFilterGraph(sampleRate int, sampleFmt astiav.SampleFormat, channelLayout astiav.ChannelLayout) (*filterGraph, error) {
	graph := astiav.AllocFilterGraph()
	if graph == nil {
		return nil, fmt.Errorf("audiocodec: waveform: allocate filter graph")
	}
	fg := &filterGraph{graph: graph}

	srcArgs := fmt.Sprintf(
		"time_base=1/%d:sample_rate=%d:sample_fmt=%s:channel_layout=%s",
		sampleRate, sampleRate, sampleFmt.Name(), channelLayout.String(),
	)
	srcCtx, err := graph.NewFilterContext(astiav.FindFilterByName("abuffer"), "src", srcArgs)
	if err != nil {
		return nil, fmt.Errorf("audiocodec: waveform: create abuffer: %w", err)
	}
	fg.sources = []*astiav.FilterContext{srcCtx}

	aformatCtx, err := graph.NewFilterContext(astiav.FindFilterByName("aformat"), "aformat", "sample_fmts=s16:channel_layouts=mono")
	if err != nil {
		return nil, fmt.Errorf("audiocodec: waveform: create aformat: %w", err)
	}
	if err := srcCtx.Link(0, aformatCtx, 0); err != nil {
		return nil, fmt.Errorf("audiocodec: waveform: link abuffer->aformat: %w", err)
	}

	sinkCtx, err := graph.NewFilterContext(astiav.FindFilterByName("abuffersink"), "sink", "")
	if err != nil {
		return nil, fmt.Errorf("audiocodec: waveform: create abuffersink: %w", err)
	}
	if err := aformatCtx.Link(0, sinkCtx, 0); err != nil {
		return nil, fmt.Errorf("audiocodec: waveform: link aformat->abuffersink: %w", err)
	}
	fg.sink = sinkCtx

	if err := graph.Configure(); err != nil {
		return nil, fmt.Errorf("audiocodec: waveform: configure filter graph: %w", err)
	}
	return fg, nil
}
