package audiocodec

import (
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
)

// PadWithSilence transcodes source to out, prepending offsetSeconds of
// stereo silence at the input's sample rate, encoding the result as
// WebM/Opus. It streams frame-by-frame and never materializes the whole
// payload in memory.
func PadWithSilence(source string, out io.Writer, offsetSeconds float64) error {
	container, err := Open(source)
	if err != nil {
		return fmt.Errorf("audiocodec: pad_with_silence open: %w", err)
	}
	defer container.Close()

	encoder := astiav.FindEncoderByName("libopus")
	if encoder == nil {
		return fmt.Errorf("audiocodec: libopus encoder unavailable")
	}
	encCtx := astiav.AllocCodecContext(encoder)
	if encCtx == nil {
		return fmt.Errorf("audiocodec: allocate encoder context")
	}
	defer encCtx.Free()

	encCtx.SetSampleRate(container.SampleRate())
	encCtx.SetSampleFormat(astiav.SampleFormatS16)
	encCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	if err := encCtx.Open(encoder, nil); err != nil {
		return fmt.Errorf("audiocodec: open libopus encoder: %w", err)
	}

	offsetMs := int(offsetSeconds * 1000)
	fg, err := newPadFilterGraph(container.SampleRate(), container.SampleFormat(), container.ChannelLayout(), offsetMs)
	if err != nil {
		return err
	}
	defer fg.free()

	muxer, err := newStreamingMuxer(out, "webm", encCtx)
	if err != nil {
		return err
	}
	defer muxer.close()

	next := container.Frames()
	src := fg.sources[0]
	filtered := astiav.AllocFrame()
	defer filtered.Free()

	for {
		frame, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("audiocodec: pad_with_silence decode: %w", err)
		}
		if err := src.BuffersrcAddFrame(frame, astiav.NewBuffersrcFlags()); err != nil {
			return fmt.Errorf("audiocodec: feed filter graph: %w", err)
		}
		if err := drainSinkToEncoder(fg.sink, filtered, encCtx, muxer); err != nil {
			return err
		}
	}

	if err := fg.sources[0].BuffersrcAddFrame(nil, astiav.NewBuffersrcFlags()); err != nil {
		return fmt.Errorf("audiocodec: flush filter graph: %w", err)
	}
	if err := drainSinkToEncoder(fg.sink, filtered, encCtx, muxer); err != nil {
		return err
	}
	return flushEncoder(encCtx, muxer)
}
