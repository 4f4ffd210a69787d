package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chicogong/slot-compositor/pkg/operators"
	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// finalLabel is the stream the encoder maps
const finalLabel = "[out]"

// OutputOptions control how the composite is encoded
type OutputOptions struct {
	FFmpegPath  string
	FrameRate   int
	Codec       string
	CRF         int
	Preset      string
	PixelFormat string

	// LoopVideos repeats clips shorter than the composite duration
	LoopVideos bool
}

// DefaultOutputOptions returns H.264 settings suitable for playback anywhere
func DefaultOutputOptions() OutputOptions {
	return OutputOptions{
		FFmpegPath:  "ffmpeg",
		FrameRate:   30,
		Codec:       "libx264",
		CRF:         23,
		Preset:      "veryfast",
		PixelFormat: "yuv420p",
		LoopVideos:  true,
	}
}

// WithCodec overlays the non-empty fields of a job's codec settings
func (o OutputOptions) WithCodec(codec *schemas.VideoCodec) OutputOptions {
	if codec == nil {
		return o
	}
	if codec.Codec != "" {
		o.Codec = codec.Codec
	}
	if codec.CRF != nil {
		o.CRF = *codec.CRF
	}
	if codec.Preset != "" {
		o.Preset = codec.Preset
	}
	if codec.PixelFormat != "" {
		o.PixelFormat = codec.PixelFormat
	}
	return o
}

// CommandBuilder builds FFmpeg commands from processing plans
type CommandBuilder struct {
	registry *operators.Registry
	options  OutputOptions
}

// NewCommandBuilder creates a new command builder
func NewCommandBuilder(registry *operators.Registry, options OutputOptions) *CommandBuilder {
	return &CommandBuilder{
		registry: registry,
		options:  options,
	}
}

// Command is one FFmpeg invocation. Args are rendered on demand so inputs
// can be swapped for downloaded copies before running.
type Command struct {
	Inputs      []schemas.PlanInput
	FilterGraph string
	OutputPath  string
	MaxDuration time.Duration
	Options     OutputOptions
}

// Build renders plan into a command writing to outputPath. maxDuration is
// mandatory: looped stills and clips never end on their own.
func (cb *CommandBuilder) Build(ctx context.Context, plan *schemas.ProcessingPlan, outputPath string, maxDuration time.Duration) (*Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	graph, err := cb.RenderFilterGraph(plan)
	if err != nil {
		return nil, err
	}
	return cb.Assemble(graph, plan.Inputs, outputPath, maxDuration)
}

// Assemble wraps an already rendered filter graph and its ordered inputs
func (cb *CommandBuilder) Assemble(graph string, inputs []schemas.PlanInput, outputPath string, maxDuration time.Duration) (*Command, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs")
	}
	if outputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if maxDuration <= 0 {
		return nil, fmt.Errorf("max duration must be positive, got %v", maxDuration)
	}
	for i, in := range inputs {
		if in.Index != i {
			return nil, fmt.Errorf("input %d has stream index %d", i, in.Index)
		}
	}

	return &Command{
		Inputs:      append([]schemas.PlanInput(nil), inputs...),
		FilterGraph: graph,
		OutputPath:  outputPath,
		MaxDuration: maxDuration,
		Options:     cb.options,
	}, nil
}

// SingleSource builds the degraded command that encodes one capture as-is
// when no composite can be produced
func (cb *CommandBuilder) SingleSource(source string, kind schemas.InputKind, outputPath string, maxDuration time.Duration) (*Command, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: no source to copy", schemas.ErrNoContent)
	}
	if kind != schemas.InputImage && kind != schemas.InputVideo {
		return nil, fmt.Errorf("cannot copy a %s input", kind)
	}
	return cb.Assemble("", []schemas.PlanInput{{Index: 0, Kind: kind, Source: source, NodeID: "source"}}, outputPath, maxDuration)
}

// RenderFilterGraph compiles every operation node in execution order into
// one filter_complex string. Input nodes are addressed by stream index, each
// operation writes a label named after its node, and the node feeding the
// output writes [out].
func (cb *CommandBuilder) RenderFilterGraph(plan *schemas.ProcessingPlan) (string, error) {
	incoming := make(map[string][]string)
	for _, edge := range plan.Edges {
		incoming[edge.To] = append(incoming[edge.To], edge.From)
	}

	final := ""
	for _, node := range plan.Nodes {
		if node.Type == schemas.NodeOutput {
			from := incoming[node.ID]
			if len(from) != 1 {
				return "", fmt.Errorf("output node %s has %d inputs", node.ID, len(from))
			}
			final = from[0]
		}
	}
	if final == "" {
		return "", fmt.Errorf("plan has no output node")
	}

	labels := make(map[string]string)
	var fragments []string

	for _, nodeID := range plan.ExecutionOrder {
		node := plan.GetNode(nodeID)
		if node == nil {
			return "", fmt.Errorf("execution order references unknown node %s", nodeID)
		}

		switch node.Type {
		case schemas.NodeInput:
			labels[node.ID] = fmt.Sprintf("[%d:v]", node.InputIndex)
			continue
		case schemas.NodeOutput:
			continue
		}

		streams := make([]operators.StreamRef, 0, len(incoming[node.ID]))
		for _, from := range incoming[node.ID] {
			label, ok := labels[from]
			if !ok {
				return "", fmt.Errorf("node %s consumes %s before it is produced", node.ID, from)
			}
			streams = append(streams, operators.StreamRef{SourceID: from, StreamType: "video", Label: label})
		}

		output := "[" + node.ID + "]"
		if node.ID == final {
			output = finalLabel
		}

		result, err := cb.registry.Compile(node.Operator, &operators.CompileContext{
			InputStreams: streams,
			Params:       node.Params,
			OutputLabel:  output,
		})
		if err != nil {
			return "", fmt.Errorf("node %s: %w", node.ID, err)
		}

		fragments = append(fragments, result.FilterExpression)
		labels[node.ID] = output
	}

	if len(fragments) == 0 {
		return "", fmt.Errorf("plan has no operations")
	}
	return strings.Join(fragments, ";"), nil
}

// Args renders the full FFmpeg argument list, program name first
func (c *Command) Args() []string {
	opts := c.Options
	args := []string{opts.FFmpegPath, "-hide_banner", "-nostdin"}

	for _, in := range c.Inputs {
		args = append(args, inputArgs(in, opts)...)
	}

	if c.FilterGraph != "" {
		args = append(args, "-filter_complex", c.FilterGraph, "-map", finalLabel)
	} else {
		// lone sources keep their size; yuv420p needs it even
		args = append(args, "-map", "0:v", "-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2")
	}

	args = append(args,
		"-t", seconds(c.MaxDuration),
		"-r", strconv.Itoa(opts.FrameRate),
		"-c:v", opts.Codec,
	)
	if opts.Preset != "" {
		args = append(args, "-preset", opts.Preset)
	}
	if opts.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(opts.CRF))
	}
	if opts.PixelFormat != "" {
		args = append(args, "-pix_fmt", opts.PixelFormat)
	}

	return append(args, "-an", "-movflags", "+faststart", "-y", c.OutputPath)
}

// String renders the command for logs
func (c *Command) String() string {
	return strings.Join(c.Args(), " ")
}

func inputArgs(in schemas.PlanInput, opts OutputOptions) []string {
	switch in.Kind {
	case schemas.InputColor:
		return []string{
			"-f", "lavfi",
			"-i", fmt.Sprintf("color=c=%s:s=%dx%d:r=%d", lavfiColor(in.Color), in.Width, in.Height, opts.FrameRate),
		}
	case schemas.InputImage, schemas.InputFrame:
		return []string{"-loop", "1", "-framerate", strconv.Itoa(opts.FrameRate), "-i", in.Source}
	case schemas.InputVideo:
		if opts.LoopVideos {
			return []string{"-stream_loop", "-1", "-i", in.Source}
		}
		return []string{"-i", in.Source}
	default:
		return []string{"-i", in.Source}
	}
}

// lavfiColor converts a canvas background to the color source syntax.
// Unparseable values were rejected by validation; they fall back to
// transparent here.
func lavfiColor(background string) string {
	c, err := schemas.ParseColor(background)
	if err != nil || c.A == 0 {
		return "black@0"
	}
	hex := fmt.Sprintf("0x%02X%02X%02X", c.R, c.G, c.B)
	if c.A == 0xff {
		return hex
	}
	return hex + "@" + strconv.FormatFloat(float64(c.A)/255, 'f', 3, 64)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
