// Package audiocodec provides the decode/resample/filter-graph/encode
// primitives the pipeline needs to align and mix multitrack recordings.
// It is a thin, allocation-disciplined layer over libav via go-astiav:
// callers stream frames through an explicit filter graph value rather than
// relying on any ambient codec state.
package audiocodec

import (
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
)

// ErrNoDecodableAudio is returned by Mix when every source probes to zero
// decodable frames.
var ErrNoDecodableAudio = errors.New("audiocodec: no decodable audio in any source")

// Container wraps an opened input and its primary audio stream.
type Container struct {
	formatCtx  *astiav.FormatContext
	codecCtx   *astiav.CodecContext
	stream     *astiav.Stream
	streamIdx  int
	sampleRate int
	startTime  int64
	timeBase   astiav.Rational
}

// Open opens source (a local path or a presigned URL; libav dereferences
// both identically through its io protocol handlers) and locates the first
// audio stream, decoding its header enough to report stream metadata.
func Open(source string) (*Container, error) {
	formatCtx := astiav.AllocFormatContext()
	if formatCtx == nil {
		return nil, errors.New("audiocodec: allocate format context")
	}

	if err := formatCtx.OpenInput(source, nil, nil); err != nil {
		formatCtx.Free()
		return nil, fmt.Errorf("audiocodec: open input %q: %w", source, err)
	}

	if err := formatCtx.FindStreamInfo(nil); err != nil {
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audiocodec: find stream info: %w", err)
	}

	var audioStream *astiav.Stream
	for _, s := range formatCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			audioStream = s
			break
		}
	}
	if audioStream == nil {
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audiocodec: %q has no audio stream", source)
	}

	decoder := astiav.FindDecoder(audioStream.CodecParameters().CodecID())
	if decoder == nil {
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audiocodec: no decoder for codec %s", audioStream.CodecParameters().CodecID())
	}

	codecCtx := astiav.AllocCodecContext(decoder)
	if codecCtx == nil {
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, errors.New("audiocodec: allocate codec context")
	}
	if err := audioStream.CodecParameters().ToCodecContext(codecCtx); err != nil {
		codecCtx.Free()
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audiocodec: copy codec parameters: %w", err)
	}
	if err := codecCtx.Open(decoder, nil); err != nil {
		codecCtx.Free()
		formatCtx.CloseInput()
		formatCtx.Free()
		return nil, fmt.Errorf("audiocodec: open decoder: %w", err)
	}

	return &Container{
		formatCtx:  formatCtx,
		codecCtx:   codecCtx,
		stream:     audioStream,
		streamIdx:  audioStream.Index(),
		sampleRate: codecCtx.SampleRate(),
		startTime:  audioStream.StartTime(),
		timeBase:   audioStream.TimeBase(),
	}, nil
}

// Close releases the container's libav resources. Safe to call once.
func (c *Container) Close() {
	if c.codecCtx != nil {
		c.codecCtx.Free()
		c.codecCtx = nil
	}
	if c.formatCtx != nil {
		c.formatCtx.CloseInput()
		c.formatCtx.Free()
		c.formatCtx = nil
	}
}

// SampleRate returns the decoded audio's sample rate in Hz.
func (c *Container) SampleRate() int { return c.sampleRate }

// SampleFormat returns the decoder's output sample format. Filter graphs
// fed from this container must declare it on their abuffer source.
func (c *Container) SampleFormat() astiav.SampleFormat { return c.codecCtx.SampleFormat() }

// ChannelLayout returns the decoder's output channel layout.
func (c *Container) ChannelLayout() astiav.ChannelLayout { return c.codecCtx.ChannelLayout() }

// DurationSeconds returns the container's reported duration, or 0 when
// the header carries none.
func (c *Container) DurationSeconds() float64 {
	d := c.formatCtx.Duration()
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(astiav.TimeBase)
}

// ExtractStartOffset returns max(0, start_time * time_base) in seconds.
// A track whose container reports a negative offset is treated as 0.
func (c *Container) ExtractStartOffset() float64 {
	if c.startTime == astiav.NoPtsValue || c.timeBase.Num() == 0 {
		return 0
	}
	offset := float64(c.startTime) * c.timeBase.Float64()
	if offset < 0 {
		return 0
	}
	return offset
}

// Frames returns an iterator function yielding decoded audio frames one at
// a time, or (nil, io.EOF) once the stream is exhausted. The returned frame
// is owned by the Container and is only valid until the next call.
func (c *Container) Frames() func() (*astiav.Frame, error) {
	pkt := astiav.AllocPacket()
	frame := astiav.AllocFrame()
	pending := false

	return func() (*astiav.Frame, error) {
		for {
			if pending {
				if err := c.codecCtx.ReceiveFrame(frame); err == nil {
					return frame, nil
				} else if !errors.Is(err, astiav.ErrEagain) {
					if errors.Is(err, astiav.ErrEof) {
						return nil, io.EOF
					} else {
						return nil, fmt.Errorf("audiocodec: receive frame: %w", err)
					}
				} else {
					pending = false
				}
			}

			if err := c.formatCtx.ReadFrame(pkt); err != nil {
				if errors.Is(err, astiav.ErrEof) {
					if err := c.codecCtx.SendPacket(nil); err != nil {
						return nil, fmt.Errorf("audiocodec: flush decoder: %w", err)
					}
					pending = true
					continue
				}
				return nil, fmt.Errorf("audiocodec: read frame: %w", err)
			}

			if pkt.StreamIndex() != c.streamIdx {
				pkt.Unref()
				continue
			}
			err := c.codecCtx.SendPacket(pkt)
			pkt.Unref()
			if err != nil {
				return nil, fmt.Errorf("audiocodec: send packet: %w", err)
			}
			pending = true
		}
	}
}

// DetectSampleRate probes each source in order and returns the first
// decodable sample rate found, or (0, false) if every probe fails.
func DetectSampleRate(sources []string) (int, bool) {
	for _, src := range sources {
		c, err := Open(src)
		if err != nil {
			continue
		}
		rate := c.SampleRate()
		c.Close()
		if rate > 0 {
			return rate, true
		}
	}
	return 0, false
}

// Sink is the destination for encoded output: a local file handle, an
// in-memory buffer, or any io.Writer the caller streams into.
type Sink = io.Writer
