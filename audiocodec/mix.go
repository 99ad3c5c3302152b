package audiocodec

import (
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
)

// MixSource is one input to Mix: a (bucket,key)-presigned URL or local path
// plus its meeting-start offset in seconds (0 if the track needs no delay).
type MixSource struct {
	URL        string
	OffsetSecs float64
}

type activeMixInput struct {
	index     int
	container *Container
	next      func() (*astiav.Frame, error)
	done      bool
}

// Mix builds N×abuffer[→adelay]→amix(inputs=N,normalize=0)→aformat(s32p,
// stereo,targetRate)→abuffersink, round-robin pulling one frame per
// active decoder, and encodes the mixed result as MP3 via libmp3lame
// into sink. It returns the mixed duration in milliseconds, rounded to
// two decimals, computed as total_packet_duration * encoder_time_base.
func Mix(sources []MixSource, sink io.Writer, targetRate int) (float64, error) {
	if len(sources) == 0 {
		return 0, ErrNoDecodableAudio
	}

	var inputs []*activeMixInput
	var specs []bufferSourceSpec
	for _, s := range sources {
		c, err := Open(s.URL)
		if err != nil {
			continue
		}
		inputs = append(inputs, &activeMixInput{index: len(inputs), container: c, next: c.Frames()})
		// The abuffer source must describe what the decoder actually
		// emits; the graph's aformat stage converts to the encoder's
		// planar s32 afterwards.
		specs = append(specs, bufferSourceSpec{
			sampleRate:    c.SampleRate(),
			sampleFmt:     c.SampleFormat(),
			channelLayout: c.ChannelLayout(),
			delayMs:       int(s.OffsetSecs * 1000),
		})
	}
	defer func() {
		for _, in := range inputs {
			in.container.Close()
		}
	}()

	if len(inputs) == 0 {
		return 0, ErrNoDecodableAudio
	}

	fg, err := newMixFilterGraph(specs, targetRate)
	if err != nil {
		return 0, err
	}
	defer fg.free()

	encoder := astiav.FindEncoderByName("libmp3lame")
	if encoder == nil {
		return 0, fmt.Errorf("audiocodec: libmp3lame encoder unavailable")
	}
	encCtx := astiav.AllocCodecContext(encoder)
	if encCtx == nil {
		return 0, fmt.Errorf("audiocodec: allocate encoder context")
	}
	defer encCtx.Free()
	encCtx.SetSampleRate(targetRate)
	encCtx.SetSampleFormat(astiav.SampleFormatS32P)
	encCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	if err := encCtx.Open(encoder, nil); err != nil {
		return 0, fmt.Errorf("audiocodec: open libmp3lame encoder: %w", err)
	}

	muxer, err := newStreamingMuxer(sink, "mp3", encCtx)
	if err != nil {
		return 0, err
	}
	defer muxer.close()

	filtered := astiav.AllocFrame()
	defer filtered.Free()

	remaining := len(inputs)
	for remaining > 0 {
		for _, in := range inputs {
			if in.done {
				continue
			}
			frame, err := in.next()
			if err == io.EOF {
				if err := fg.sources[in.index].BuffersrcAddFrame(nil, astiav.NewBuffersrcFlags()); err != nil {
					return 0, fmt.Errorf("audiocodec: mix eof signal: %w", err)
				}
				in.done = true
				remaining--
				continue
			}
			if err != nil {
				// A partial decode failure drops the source; the mix
				// continues with whatever remains.
				if err := fg.sources[in.index].BuffersrcAddFrame(nil, astiav.NewBuffersrcFlags()); err != nil {
					return 0, fmt.Errorf("audiocodec: mix eof signal: %w", err)
				}
				in.done = true
				remaining--
				continue
			}
			if err := fg.sources[in.index].BuffersrcAddFrame(frame, astiav.NewBuffersrcFlags()); err != nil {
				return 0, fmt.Errorf("audiocodec: mix feed: %w", err)
			}
		}
		if err := drainSinkToEncoder(fg.sink, filtered, encCtx, muxer); err != nil {
			return 0, err
		}
	}

	if err := drainSinkToEncoder(fg.sink, filtered, encCtx, muxer); err != nil {
		return 0, err
	}
	if err := flushEncoder(encCtx, muxer); err != nil {
		return 0, err
	}

	return roundMs(muxer.totalDurationMs(encCtx.TimeBase())), nil
}

func roundMs(ms float64) float64 {
	return float64(int64(ms*100+0.5)) / 100
}
