package audiocodec

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// filterGraph wraps an immutable libav filter graph: buffer sources feed
// decoded frames in, a chain of filters (adelay/amix/aformat) transforms
// them, and a buffersink lets the caller pull the result. Built once,
// configured once, then driven by a decoder-pull loop.
type filterGraph struct {
	graph   *astiav.FilterGraph
	sources []*astiav.FilterContext
	sink    *astiav.FilterContext
}

type bufferSourceSpec struct {
	sampleRate    int
	sampleFmt     astiav.SampleFormat
	channelLayout astiav.ChannelLayout
	delayMs       int // 0 means no adelay stage for this input
}

// newMixFilterGraph builds N×abuffer[→adelay] → amix(inputs=N,
// normalize=0) → aformat(s32, stereo, targetRate) → abuffersink.
func newMixFilterGraph(specs []bufferSourceSpec, targetRate int) (*filterGraph, error) {
	graph := astiav.AllocFilterGraph()
	if graph == nil {
		return nil, fmt.Errorf("audiocodec: allocate filter graph")
	}

	fg := &filterGraph{graph: graph}

	amixArgs := fmt.Sprintf("inputs=%d:normalize=0", len(specs))
	amixCtx, err := graph.NewFilterContext(astiav.FindFilterByName("amix"), "amix", amixArgs)
	if err != nil {
		return nil, fmt.Errorf("audiocodec: create amix filter: %w", err)
	}

	for i, spec := range specs {
		srcArgs := fmt.Sprintf(
			"time_base=1/%d:sample_rate=%d:sample_fmt=%s:channel_layout=%s",
			spec.sampleRate, spec.sampleRate, spec.sampleFmt.Name(), spec.channelLayout.String(),
		)
		srcName := fmt.Sprintf("src%d", i)
		srcCtx, err := graph.NewFilterContext(astiav.FindFilterByName("abuffer"), srcName, srcArgs)
		if err != nil {
			return nil, fmt.Errorf("audiocodec: create abuffer %d: %w", i, err)
		}

		last := srcCtx
		if spec.delayMs > 0 {
			delayArgs := fmt.Sprintf("delays=%d|%d:all=1", spec.delayMs, spec.delayMs)
			delayCtx, err := graph.NewFilterContext(astiav.FindFilterByName("adelay"), fmt.Sprintf("adelay%d", i), delayArgs)
			if err != nil {
				return nil, fmt.Errorf("audiocodec: create adelay %d: %w", i, err)
			}
			if err := last.Link(0, delayCtx, 0); err != nil {
				return nil, fmt.Errorf("audiocodec: link abuffer->adelay %d: %w", i, err)
			}
			last = delayCtx
		}

		if err := last.Link(0, amixCtx, i); err != nil {
			return nil, fmt.Errorf("audiocodec: link input %d -> amix: %w", i, err)
		}
		fg.sources = append(fg.sources, srcCtx)
	}

	// libmp3lame consumes planar samples, so the graph lands on s32p.
	aformatArgs := fmt.Sprintf(
		"sample_fmts=s32p:channel_layouts=stereo:sample_rates=%d", targetRate,
	)
	aformatCtx, err := graph.NewFilterContext(astiav.FindFilterByName("aformat"), "aformat", aformatArgs)
	if err != nil {
		return nil, fmt.Errorf("audiocodec: create aformat filter: %w", err)
	}
	if err := amixCtx.Link(0, aformatCtx, 0); err != nil {
		return nil, fmt.Errorf("audiocodec: link amix->aformat: %w", err)
	}

	sinkCtx, err := graph.NewFilterContext(astiav.FindFilterByName("abuffersink"), "sink", "")
	if err != nil {
		return nil, fmt.Errorf("audiocodec: create abuffersink filter: %w", err)
	}
	if err := aformatCtx.Link(0, sinkCtx, 0); err != nil {
		return nil, fmt.Errorf("audiocodec: link aformat->abuffersink: %w", err)
	}
	fg.sink = sinkCtx

	if err := graph.Configure(); err != nil {
		return nil, fmt.Errorf("audiocodec: configure filter graph: %w", err)
	}

	return fg, nil
}

// newPadFilterGraph builds abuffer → adelay(delays=offsetMs|offsetMs:all=1)
// → aformat(s16,stereo) → abuffersink.
func newPadFilterGraph(sampleRate int, sampleFmt astiav.SampleFormat, channelLayout astiav.ChannelLayout, offsetMs int) (*filterGraph, error) {
	graph := astiav.AllocFilterGraph()
	if graph == nil {
		return nil, fmt.Errorf("audiocodec: allocate filter graph")
	}
	fg := &filterGraph{graph: graph}

	srcArgs := fmt.Sprintf(
		"time_base=1/%d:sample_rate=%d:sample_fmt=%s:channel_layout=%s",
		sampleRate, sampleRate, sampleFmt.Name(), channelLayout.String(),
	)
	srcCtx, err := graph.NewFilterContext(astiav.FindFilterByName("abuffer"), "src", srcArgs)
	if err != nil {
		return nil, fmt.Errorf("audiocodec: create abuffer: %w", err)
	}
	fg.sources = []*astiav.FilterContext{srcCtx}

	delayArgs := fmt.Sprintf("delays=%d|%d:all=1", offsetMs, offsetMs)
	delayCtx, err := graph.NewFilterContext(astiav.FindFilterByName("adelay"), "adelay", delayArgs)
	if err != nil {
		return nil, fmt.Errorf("audiocodec: create adelay: %w", err)
	}
	if err := srcCtx.Link(0, delayCtx, 0); err != nil {
		return nil, fmt.Errorf("audiocodec: link abuffer->adelay: %w", err)
	}

	aformatCtx, err := graph.NewFilterContext(astiav.FindFilterByName("aformat"), "aformat", "sample_fmts=s16:channel_layouts=stereo")
	if err != nil {
		return nil, fmt.Errorf("audiocodec: create aformat: %w", err)
	}
	if err := delayCtx.Link(0, aformatCtx, 0); err != nil {
		return nil, fmt.Errorf("audiocodec: link adelay->aformat: %w", err)
	}

	sinkCtx, err := graph.NewFilterContext(astiav.FindFilterByName("abuffersink"), "sink", "")
	if err != nil {
		return nil, fmt.Errorf("audiocodec: create abuffersink: %w", err)
	}
	if err := aformatCtx.Link(0, sinkCtx, 0); err != nil {
		return nil, fmt.Errorf("audiocodec: link aformat->abuffersink: %w", err)
	}
	fg.sink = sinkCtx

	if err := graph.Configure(); err != nil {
		return nil, fmt.Errorf("audiocodec: configure filter graph: %w", err)
	}

	return fg, nil
}

func (fg *filterGraph) free() {
	if fg.graph != nil {
		fg.graph.Free()
		fg.graph = nil
	}
}
