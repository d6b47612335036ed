package exportmodule

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"

	"github.com/mantonx/exportra/internal/timeline"
)

// layerRect resolves an element's placement; a zero-size rectangle fills
// the canvas.
func layerRect(el *timeline.Element, canvasW, canvasH int) image.Rectangle {
	if el.W <= 0 || el.H <= 0 {
		return image.Rect(0, 0, canvasW, canvasH)
	}
	return image.Rect(int(el.X), int(el.Y), int(el.X+el.W), int(el.Y+el.H))
}

// elementOpacity maps the element field to a draw alpha; zero means unset
// and is treated as fully opaque.
func elementOpacity(el *timeline.Element) float64 {
	if el.Opacity <= 0 || el.Opacity > 1 {
		return 1
	}
	return el.Opacity
}

// drawLayer composites src into dst at the element's rectangle, scaling
// to fit and applying opacity and rotation at draw time.
func drawLayer(dst *image.RGBA, src image.Image, el *timeline.Element) {
	rect := layerRect(el, dst.Bounds().Dx(), dst.Bounds().Dy())
	sb := src.Bounds()
	if sb.Empty() || rect.Empty() {
		return
	}

	sx := float64(rect.Dx()) / float64(sb.Dx())
	sy := float64(rect.Dy()) / float64(sb.Dy())

	// scale, rotate about the rectangle center, then translate into place
	theta := el.Rotation * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	cx, cy := float64(rect.Min.X)+float64(rect.Dx())/2, float64(rect.Min.Y)+float64(rect.Dy())/2
	hw, hh := float64(sb.Dx())/2, float64(sb.Dy())/2

	m := f64.Aff3{
		sx * cos, -sy * sin, cx - sx*cos*hw + sy*sin*hh,
		sx * sin, sy * cos, cy - sx*sin*hw - sy*cos*hh,
	}

	opts := &xdraw.Options{}
	if alpha := elementOpacity(el); alpha < 1 {
		opts.SrcMask = image.NewUniform(color.Alpha{A: uint8(alpha*255 + 0.5)})
	}

	xdraw.ApproxBiLinear.Transform(dst, m, src, sb, xdraw.Over, opts)
}

// imageCache decodes still images once per media id.
type imageCache struct {
	images map[string]image.Image
}

func newImageCache() *imageCache {
	return &imageCache{images: make(map[string]image.Image)}
}

func (c *imageCache) get(mediaID, path string) (image.Image, error) {
	if img, ok := c.images[mediaID]; ok {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	var img image.Image
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		img, err = webp.Decode(f)
	} else {
		img, _, err = image.Decode(f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}

	c.images[mediaID] = img
	return img, nil
}

// textRasterizer renders styled text with the embedded Go fonts.
type textRasterizer struct {
	regular *opentype.Font
	bold    *opentype.Font
	faces   map[faceKey]font.Face
}

type faceKey struct {
	size float64
	bold bool
}

func newTextRasterizer() (*textRasterizer, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bold font: %w", err)
	}
	return &textRasterizer{
		regular: regular,
		bold:    bold,
		faces:   make(map[faceKey]font.Face),
	}, nil
}

func (t *textRasterizer) face(size float64, bold bool) (font.Face, error) {
	if size <= 0 {
		size = 48
	}
	key := faceKey{size: size, bold: bold}
	if face, ok := t.faces[key]; ok {
		return face, nil
	}

	src := t.regular
	if bold {
		src = t.bold
	}
	face, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	t.faces[key] = face
	return face, nil
}

// draw rasterizes the element's text at its styled position. Text with a
// zero-size rectangle is centered on the canvas.
func (t *textRasterizer) draw(dst *image.RGBA, el *timeline.Element) error {
	style := el.Text
	if style == nil || style.Content == "" {
		return nil
	}

	face, err := t.face(style.FontSize, style.Bold)
	if err != nil {
		return err
	}

	col := style.Color.ToColor()
	if col.A == 0 {
		col = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	if alpha := elementOpacity(el); alpha < 1 {
		col.A = uint8(float64(col.A)*alpha + 0.5)
	}

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
	}

	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	lines := strings.Split(style.Content, "\n")

	canvasW, canvasH := dst.Bounds().Dx(), dst.Bounds().Dy()
	baseX, baseY := int(el.X), int(el.Y)+metrics.Ascent.Ceil()
	centered := el.W <= 0 || el.H <= 0
	if centered {
		totalH := lineHeight * len(lines)
		baseY = (canvasH-totalH)/2 + metrics.Ascent.Ceil()
	}

	for i, line := range lines {
		x := baseX
		if centered {
			width := font.MeasureString(face, line).Ceil()
			x = (canvasW - width) / 2
		}
		drawer.Dot = fixed.P(x, baseY+i*lineHeight)
		drawer.DrawString(line)
	}
	return nil
}

// fillBackground paints the frame base color.
func fillBackground(img *image.RGBA, c color.Color) {
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}
