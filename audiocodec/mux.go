package audiocodec

import (
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
)

// streamingMuxer wraps an output format context whose AVIO layer writes
// directly to an io.Writer, so Mix and PadWithSilence never materialize
// the encoded output twice.
type streamingMuxer struct {
	formatCtx *astiav.FormatContext
	ioCtx     *astiav.IOContext
	stream    *astiav.Stream
	pkt       *astiav.Packet
	samples   int64
}

func newStreamingMuxer(w io.Writer, formatName string, encCtx *astiav.CodecContext) (*streamingMuxer, error) {
	of := astiav.FindOutputFormat(formatName)
	if of == nil {
		return nil, fmt.Errorf("audiocodec: unknown output format %q", formatName)
	}

	formatCtx, err := astiav.AllocOutputFormatContext(of, "", "")
	if err != nil || formatCtx == nil {
		return nil, fmt.Errorf("audiocodec: allocate output format context: %w", err)
	}

	stream := formatCtx.NewStream(nil)
	if stream == nil {
		formatCtx.Free()
		return nil, fmt.Errorf("audiocodec: allocate output stream")
	}
	if err := stream.CodecParameters().FromCodecContext(encCtx); err != nil {
		formatCtx.Free()
		return nil, fmt.Errorf("audiocodec: copy encoder parameters to stream: %w", err)
	}
	stream.SetTimeBase(encCtx.TimeBase())

	ioCtx, err := astiav.AllocIOContext(4096, true, nil, nil, func(b []byte) (int, error) {
		return w.Write(b)
	})
	if err != nil {
		formatCtx.Free()
		return nil, fmt.Errorf("audiocodec: allocate io context: %w", err)
	}
	formatCtx.SetPb(ioCtx)

	if err := formatCtx.WriteHeader(nil); err != nil {
		ioCtx.Free()
		formatCtx.Free()
		return nil, fmt.Errorf("audiocodec: write header: %w", err)
	}

	return &streamingMuxer{formatCtx: formatCtx, ioCtx: ioCtx, stream: stream, pkt: astiav.AllocPacket()}, nil
}

// writeFrame encodes frame (nil to flush) through encCtx and muxes every
// resulting packet.
func (m *streamingMuxer) writeFrame(encCtx *astiav.CodecContext, frame *astiav.Frame) error {
	if err := encCtx.SendFrame(frame); err != nil {
		return fmt.Errorf("audiocodec: send frame to encoder: %w", err)
	}
	for {
		if err := encCtx.ReceivePacket(m.pkt); err != nil {
			if errIsAgainOrEOF(err) {
				return nil
			}
			return fmt.Errorf("audiocodec: receive packet: %w", err)
		}
		m.pkt.SetStreamIndex(m.stream.Index())
		m.pkt.RescaleTs(encCtx.TimeBase(), m.stream.TimeBase())
		if m.pkt.Pts() != astiav.NoPtsValue {
			m.samples = m.pkt.Pts() + int64(m.pkt.Duration())
		}
		if err := m.formatCtx.WriteInterleavedFrame(m.pkt); err != nil {
			m.pkt.Unref()
			return fmt.Errorf("audiocodec: mux packet: %w", err)
		}
		m.pkt.Unref()
	}
}

func errIsAgainOrEOF(err error) bool {
	return err == astiav.ErrEagain || err == astiav.ErrEof
}

// totalDurationMs returns the muxed duration so far in milliseconds,
// derived from the last packet's end pts in the encoder's time base.
func (m *streamingMuxer) totalDurationMs(timeBase astiav.Rational) float64 {
	return float64(m.samples) * timeBase.Float64() * 1000
}

func (m *streamingMuxer) close() {
	if m.formatCtx != nil {
		m.formatCtx.WriteTrailer()
	}
	if m.pkt != nil {
		m.pkt.Free()
		m.pkt = nil
	}
	if m.ioCtx != nil {
		m.ioCtx.Free()
		m.ioCtx = nil
	}
	if m.formatCtx != nil {
		m.formatCtx.Free()
		m.formatCtx = nil
	}
}

// drainSinkToEncoder pulls every frame currently available from sink and
// encodes it through encCtx into muxer, stopping at EAGAIN (no more
// frames buffered yet) without error.
func drainSinkToEncoder(sink *astiav.FilterContext, filtered *astiav.Frame, encCtx *astiav.CodecContext, muxer *streamingMuxer) error {
	for {
		if err := sink.BuffersinkGetFrame(filtered, astiav.NewBuffersinkFlags()); err != nil {
			if errIsAgainOrEOF(err) {
				return nil
			}
			return fmt.Errorf("audiocodec: pull sink frame: %w", err)
		}
		err := muxer.writeFrame(encCtx, filtered)
		filtered.Unref()
		if err != nil {
			return err
		}
	}
}

// flushEncoder signals end-of-stream to encCtx and drains any packets
// still buffered inside it.
func flushEncoder(encCtx *astiav.CodecContext, muxer *streamingMuxer) error {
	return muxer.writeFrame(encCtx, nil)
}
