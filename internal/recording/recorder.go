// Package recording turns per-step screenshots into short animated GIFs
// with the virtual pointer painted on top.
package recording

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	_ "image/png"
	"io"
	"sort"
	"time"

	"github.com/nfnt/resize"
)

const (
	defaultMaxWidth   = 800
	defaultFrameDelay = 500 * time.Millisecond
)

// Options tunes the encoded video.
type Options struct {
	// MaxWidth caps the output width; frames are scaled keeping aspect.
	MaxWidth uint
	// FrameDelay is how long each frame is shown.
	FrameDelay time.Duration
}

// Recorder accumulates frames for one step. It is not safe for concurrent
// use.
type Recorder struct {
	opts   Options
	frames []image.Image
	cursor []Cursor
}

// New returns an empty Recorder.
func New(opts Options) *Recorder {
	if opts.MaxWidth == 0 {
		opts.MaxWidth = defaultMaxWidth
	}
	if opts.FrameDelay <= 0 {
		opts.FrameDelay = defaultFrameDelay
	}
	return &Recorder{opts: opts}
}

// Add decodes an encoded screenshot and queues it with the pointer state.
func (r *Recorder) Add(encoded []byte, c Cursor) error {
	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	r.AddImage(img, c)
	return nil
}

// AddImage queues an already decoded frame.
func (r *Recorder) AddImage(img image.Image, c Cursor) {
	r.frames = append(r.frames, img)
	r.cursor = append(r.cursor, c)
}

// Encode writes the queued frames as a looping GIF.
func (r *Recorder) Encode(w io.Writer) error {
	if len(r.frames) == 0 {
		return fmt.Errorf("no frames recorded")
	}

	b := r.frames[0].Bounds()
	width := r.opts.MaxWidth
	if uint(b.Dx()) < width {
		width = uint(b.Dx())
	}
	height := uint(float64(width) * float64(b.Dy()) / float64(b.Dx()))
	delay := int(r.opts.FrameDelay / (10 * time.Millisecond))

	g := &gif.GIF{
		Image: make([]*image.Paletted, len(r.frames)),
		Delay: make([]int, len(r.frames)),
	}
	var pal color.Palette
	for i, frame := range r.frames {
		scaled := resize.Resize(width, height, paint(frame, r.cursor[i]), resize.Lanczos3)
		if pal == nil {
			pal = palette(scaled)
		}
		p := image.NewPaletted(scaled.Bounds(), pal)
		draw.FloydSteinberg.Draw(p, scaled.Bounds(), scaled, scaled.Bounds().Min)
		g.Image[i] = p
		g.Delay[i] = delay
	}
	return gif.EncodeAll(w, g)
}

// Bytes encodes the queued frames into memory.
func (r *Recorder) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// palette picks the most frequent colours of a sparse sample of img,
// padded with greys to 256 entries.
func palette(img image.Image) color.Palette {
	const stride = 4

	b := img.Bounds()
	counts := make(map[color.RGBA]int)
	for y := b.Min.Y; y < b.Max.Y; y += stride {
		for x := b.Min.X; x < b.Max.X; x += stride {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			counts[c]++
		}
	}

	colors := make([]color.RGBA, 0, len(counts))
	for c := range counts {
		colors = append(colors, c)
	}
	sort.Slice(colors, func(i, j int) bool {
		if counts[colors[i]] != counts[colors[j]] {
			return counts[colors[i]] > counts[colors[j]]
		}
		return rgbaLess(colors[i], colors[j])
	})

	pal := make(color.Palette, 0, 256)
	pal = append(pal, color.RGBA{})
	for _, c := range colors {
		if len(pal) == 256 {
			break
		}
		pal = append(pal, c)
	}
	for len(pal) < 256 {
		g := uint8(len(pal))
		pal = append(pal, color.RGBA{g, g, g, 255})
	}
	return pal
}

func rgbaLess(a, b color.RGBA) bool {
	if a.R != b.R {
		return a.R < b.R
	}
	if a.G != b.G {
		return a.G < b.G
	}
	if a.B != b.B {
		return a.B < b.B
	}
	return a.A < b.A
}
