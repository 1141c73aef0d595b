// Package geometry parses image dimension specs and computes the resize and
// crop arguments needed to transform a source image into a target shape.
package geometry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// IdentifyCommand is the external tool used to read pixel dimensions from a
// file. Override before first use if the binary is not on PATH.
var IdentifyCommand = "identify"

// Modifiers recognized on a geometry spec. Any other trailing modifier
// character parses but leaves the plain fit behavior unchanged.
const (
	// CropModifier marks a spec as "scale to cover, then center-crop".
	CropModifier = '#'
	// ShrinkModifier resizes only when the source exceeds the target.
	ShrinkModifier = '>'
	// EnlargeModifier resizes only when the source is smaller than the target.
	EnlargeModifier = '<'
)

// Geometry is a parsed width/height pair plus an optional trailing modifier.
// A zero width or height means that dimension is unconstrained.
type Geometry struct {
	Width    float64
	Height   float64
	Modifier byte
}

// FormatError reports a geometry spec that does not match the recognized
// grammar, or source dimensions that cannot be transformed.
type FormatError struct {
	Spec   string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("geometry %q: %s", e.Spec, e.Reason)
	}
	return fmt.Sprintf("geometry %q: unrecognized format", e.Spec)
}

// NotIdentifiedError reports a file the identify tool could not read.
type NotIdentifiedError struct {
	Path string
	Err  error
}

func (e *NotIdentifiedError) Error() string {
	return fmt.Sprintf("%s is not recognized by the identify command: %v", e.Path, e.Err)
}

func (e *NotIdentifiedError) Unwrap() error { return e.Err }

// CommandNotFoundError reports a missing external tool binary. It is always
// surfaced regardless of whiny settings since it indicates a misconfigured
// environment rather than a bad input file.
type CommandNotFoundError struct {
	Command string
}

func (e *CommandNotFoundError) Error() string {
	return fmt.Sprintf("could not run the %q command: not found", e.Command)
}

var specPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)?x(\d+(?:\.\d+)?)?([#!<>@%^])?$`)

// Parse reads a spec of the form "<W>x<H>", "<W>x" or "x<H>", optionally
// suffixed with a single modifier character.
func Parse(spec string) (Geometry, error) {
	m := specPattern.FindStringSubmatch(strings.TrimSpace(spec))
	if m == nil || (m[1] == "" && m[2] == "") {
		return Geometry{}, &FormatError{Spec: spec}
	}
	var g Geometry
	if m[1] != "" {
		g.Width, _ = strconv.ParseFloat(m[1], 64)
	}
	if m[2] != "" {
		g.Height, _ = strconv.ParseFloat(m[2], 64)
	}
	if m[3] != "" {
		g.Modifier = m[3][0]
	}
	return g, nil
}

// FromFile reads the pixel dimensions of the first frame of the file at path
// via the identify command.
func FromFile(ctx context.Context, path string) (Geometry, error) {
	cmd := exec.CommandContext(ctx, IdentifyCommand, "-format", "%wx%h", path+"[0]")
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Geometry{}, &CommandNotFoundError{Command: IdentifyCommand}
		}
		return Geometry{}, &NotIdentifiedError{Path: path, Err: err}
	}
	g, parseErr := Parse(strings.TrimSpace(string(out)))
	if parseErr != nil {
		return Geometry{}, &NotIdentifiedError{Path: path, Err: parseErr}
	}
	return g, nil
}

// Crop reports whether the modifier requests cover-and-crop semantics.
func (g Geometry) Crop() bool { return g.Modifier == CropModifier }

// String renders the geometry back into parseable spec form.
func (g Geometry) String() string {
	var b strings.Builder
	if g.Width > 0 {
		b.WriteString(formatDim(g.Width))
	}
	b.WriteByte('x')
	if g.Height > 0 {
		b.WriteString(formatDim(g.Height))
	}
	if g.Modifier != 0 {
		b.WriteByte(g.Modifier)
	}
	return b.String()
}

// Transformation computes the convert arguments that turn a source of this
// geometry into the target shape.
//
// Without crop the result fits inside the target box: both output dimensions
// are at most the target's, at least one is exactly equal, and aspect ratio
// is preserved. A zero target dimension is unconstrained. A ">" target
// modifier leaves sources already inside the box at their own size; "<"
// resizes only sources smaller than the box.
//
// With crop the source is scaled so the smaller scaled dimension matches the
// target exactly (the image covers the target box), then a centered region of
// exactly target.Width x target.Height is cut out. When the excess is odd the
// extra pixel stays on the trailing (bottom/right) edge, since offsets are
// floor(excess/2).
func (g Geometry) Transformation(target Geometry, crop bool) (scale string, cropArg string, err error) {
	if g.Width <= 0 || g.Height <= 0 {
		return "", "", &FormatError{Spec: g.String(), Reason: "source dimensions must be positive"}
	}
	if crop && target.Width > 0 && target.Height > 0 {
		return g.coverAndCrop(target)
	}
	return g.fit(target), "", nil
}

func (g Geometry) fit(target Geometry) string {
	fw, fh := math.Inf(1), math.Inf(1)
	if target.Width > 0 {
		fw = target.Width / g.Width
	}
	if target.Height > 0 {
		fh = target.Height / g.Height
	}
	f := math.Min(fw, fh)
	switch target.Modifier {
	case ShrinkModifier:
		if f >= 1 {
			return fmt.Sprintf("%dx%d", round(g.Width), round(g.Height))
		}
	case EnlargeModifier:
		if f <= 1 {
			return fmt.Sprintf("%dx%d", round(g.Width), round(g.Height))
		}
	}
	var w, h int
	switch {
	case math.IsInf(fw, 1) && math.IsInf(fh, 1):
		w, h = round(g.Width), round(g.Height)
	case fw <= fh:
		w = round(target.Width)
		h = round(g.Height * fw)
	default:
		h = round(target.Height)
		w = round(g.Width * fh)
	}
	if target.Width > 0 && w > round(target.Width) {
		w = round(target.Width)
	}
	if target.Height > 0 && h > round(target.Height) {
		h = round(target.Height)
	}
	return fmt.Sprintf("%dx%d", w, h)
}

func (g Geometry) coverAndCrop(target Geometry) (string, string, error) {
	fw := target.Width / g.Width
	fh := target.Height / g.Height
	tw, th := round(target.Width), round(target.Height)
	var sw, sh int
	if fw >= fh {
		sw = tw
		sh = round(g.Height * fw)
	} else {
		sh = th
		sw = round(g.Width * fh)
	}
	if sw < tw {
		sw = tw
	}
	if sh < th {
		sh = th
	}
	x := (sw - tw) / 2
	y := (sh - th) / 2
	scale := fmt.Sprintf("%dx%d", sw, sh)
	cropArg := fmt.Sprintf("%dx%d+%d+%d", tw, th, x, y)
	return scale, cropArg, nil
}

func round(f float64) int { return int(math.Round(f)) }

func formatDim(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
