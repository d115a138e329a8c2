package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"time"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            = 120.0
	fontSize       = 12.0
	tickMarkHeight = 5
	pixelsPerLabel = 150.0

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 80
	defaultBottomBorder = 40
	defaultRightBorder  = 40
)

// BorderConfig defines the sizes of white space around the image
type BorderConfig struct {
	Top    int // Space for lateral position scale
	Left   int // Space for depth scale
	Bottom int // Space for information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for B-scan visualization
type RenderConfig struct {
	FontSize     float64    // Font size in points
	ColorTheme   ColorTheme // Color scheme for amplitude values
	ColorMapSize int        // Number of colors in gradient (0 for default)

	NoAnnotations bool // Skip scales and the information bar

	BorderConfig BorderConfig
}

// BScanRenderer handles the visualization of archived scan sessions
type BScanRenderer struct {
	colorMap *ColorMapper
	config   RenderConfig
}

// NewBScanRenderer creates a new renderer with the given configuration
func NewBScanRenderer(config RenderConfig) (*BScanRenderer, error) {
	// Set defaults for zero values
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}
	if config.NoAnnotations {
		config.BorderConfig = BorderConfig{}
	}

	return &BScanRenderer{config: config}, nil
}

// Render creates an image of the scan data with annotations
func (r *BScanRenderer) Render(spec *BScanData) (*image.RGBA, error) {
	// Create image with space for borders
	fullWidth := spec.Width + r.config.BorderConfig.Left + r.config.BorderConfig.Right
	fullHeight := spec.Height + r.config.BorderConfig.Top + r.config.BorderConfig.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	// Fill with white background
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	// Define scan area (1:1 mapping)
	scanArea := image.Rect(
		r.config.BorderConfig.Left,
		r.config.BorderConfig.Top,
		r.config.BorderConfig.Left+spec.Width,
		r.config.BorderConfig.Top+spec.Height,
	)

	// Update or create color map
	bounds := spec.BoundsTracker.Current()
	if r.colorMap == nil {
		r.colorMap = NewColorMapperWithSize(r.config.ColorTheme, bounds, r.config.ColorMapSize)
	} else {
		r.colorMap.UpdateBounds(bounds)
	}

	if !r.config.NoAnnotations {
		ann, err := newAnnotator(annotatorConfig{
			FontSize: r.config.FontSize,
			Borders:  r.config.BorderConfig,
		})
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		// First draw annotations
		if err = ann.annotate(img, spec); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	// Then render scan data (overwriting any overlapping annotations)
	r.renderColumns(img, scanArea, spec)

	return img, nil
}

// renderColumns draws the actual scan data using the color map. Depth bin
// zero is the top edge of the scan area.
func (r *BScanRenderer) renderColumns(img *image.RGBA, area image.Rectangle, spec *BScanData) {
	for x, column := range spec.Columns {
		imgX := area.Min.X + x
		for y, amplitude := range column {
			img.Set(imgX, area.Min.Y+y, r.colorMap.GetColor(amplitude))
		}
	}
}

// Internal annotator implementation
type annotatorConfig struct {
	FontSize float64
	Borders  BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, spec *BScanData) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawPositionScale(img, spec); err != nil {
		return fmt.Errorf("drawing position scale: %w", err)
	}
	if err := a.drawDepthScale(img, spec); err != nil {
		return fmt.Errorf("drawing depth scale: %w", err)
	}
	if err := a.drawInfoBar(img, spec); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}

	return nil
}

func (a *annotator) drawPositionScale(img *image.RGBA, spec *BScanData) error {
	span := spec.XMax - spec.XMin
	if span <= 0 || spec.Width < 2 {
		return nil
	}
	step := calculateNiceStep(span, spec.Width)

	// Get actual font height in pixels
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	// Calculate centered Y position in the available space
	textY := a.config.Borders.Top - fontHeight/2

	startPos := math.Ceil(spec.XMin/step) * step
	for pos := startPos; pos <= spec.XMax; pos += step {
		// Convert lateral position to x coordinate
		xRatio := (pos - spec.XMin) / span
		x := a.config.Borders.Left + int(xRatio*float64(spec.Width-1))

		// Draw tick mark
		for y := a.config.Borders.Top - tickMarkHeight; y < a.config.Borders.Top; y++ {
			img.Set(x, y, color.Black)
		}

		// Format and draw position label
		label := fmt.Sprintf("%g mm", pos)
		width := font.MeasureString(a.fontFace, label)
		pt := freetype.Pt(x-(width.Round()/2), textY)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing position label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawDepthScale(img *image.RGBA, spec *BScanData) error {
	if spec.DepthMax <= 0 || spec.Height < 2 {
		return nil
	}

	depthMM := spec.DepthMax * 1e3
	step := calculateNiceStep(depthMM, spec.Height)

	// Get font metrics once
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	for depth := 0.0; depth <= depthMM; depth += step {
		imgY := a.config.Borders.Top + int(depth/depthMM*float64(spec.Height-1))

		// Draw tick mark
		for x := a.config.Borders.Left - tickMarkHeight; x < a.config.Borders.Left; x++ {
			img.Set(x, imgY, color.Black)
		}

		// Center text vertically relative to the tick mark position
		textY := imgY + fontHeight/2 - metrics.Descent.Round()

		label := formatDepth(depth)
		pt := freetype.Pt(10, textY)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing depth label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, spec *BScanData) error {
	var sb strings.Builder

	if spec.ScanType != "" {
		sb.WriteString(fmt.Sprintf("Scan: %s; ", spec.ScanType))
	}
	sb.WriteString(fmt.Sprintf("Depth: 0 - %s", formatDepth(spec.DepthMax*1e3)))
	sb.WriteString(fmt.Sprintf("; Exposure: %s", spec.Exposure))
	if !spec.StartTime.IsZero() {
		sb.WriteString("; " + spec.StartTime.Local().Format(time.DateTime))
	}

	// Depth resolution of one image pixel
	if spec.Height > 1 {
		depthPerPixel := spec.DepthMax * 1e3 / float64(spec.Height-1)
		sb.WriteString(fmt.Sprintf("; 1px = %s", formatDepth(depthPerPixel)))
	}

	// Calculate text position in bottom border
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	// Center text vertically in bottom border
	textY := img.Bounds().Max.Y - (a.config.Borders.Bottom-fontHeight)/2 - metrics.Descent.Round()

	pt := freetype.Pt(a.config.Borders.Left, textY)
	if _, err := a.context.DrawString(sb.String(), pt); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}

	return nil
}

// Helper functions

// calculateNiceStep picks a label step in millimeters that keeps labels
// roughly pixelsPerLabel apart.
func calculateNiceStep(rangeMM float64, pixels int) float64 {
	steps := []float64{
		0.001, // 1 µm
		0.01,  // 10 µm
		0.1,   // 100 µm
		0.25,
		0.5,
		1, // 1 mm
		2,
		5,
		10, // 10 mm
	}

	desiredSteps := float64(pixels) / pixelsPerLabel
	targetStep := rangeMM / desiredSteps

	// Find the closest standard step size
	for _, step := range steps {
		if step >= targetStep {
			// If this step would give us at least 2 points
			if rangeMM/step >= 2 {
				return step
			}
			break
		}
	}

	// If we can't find a suitable step or would get too few points,
	// return half the range to show at least the midpoint
	return rangeMM / 2
}

func formatDepth(mm float64) string {
	if mm < 1 {
		return fmt.Sprintf("%.0f µm", mm*1e3)
	}
	return fmt.Sprintf("%.2f mm", mm)
}
