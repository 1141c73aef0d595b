// Package processor turns a source file into a styled variant by invoking an
// external image tool once per style.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/rivetlabs/rivet/geometry"
)

// ConvertCommand is the external tool that performs the pixel transformation.
// Override before first use if the binary is not on PATH.
var ConvertCommand = "convert"

// ProcessingError reports a tool run that failed for a given attachment. It
// is only surfaced when the style's whiny flag is set.
type ProcessingError struct {
	Attachment string
	Err        error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("there was an error processing attachment %q: %v", e.Attachment, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Options configures one Thumbnail run.
type Options struct {
	// Geometry is the target spec, e.g. "100x100" or "640x480#". A trailing
	// crop modifier selects cover-and-crop semantics.
	Geometry string
	// Format overrides the output extension; empty keeps the source's.
	Format string
	// ConvertOptions are extra tool arguments appended after the
	// geometry-derived ones, so they may override them.
	ConvertOptions string
	// Whiny makes tool failures fatal instead of silently skipping the style.
	Whiny bool
	// Attachment names the owning attachment in error messages.
	Attachment string
}

// Thumbnail holds everything needed for a single transformation.
type Thumbnail struct {
	src            *os.File
	target         geometry.Geometry
	crop           bool
	format         string
	convertOptions string
	whiny          bool
	attachment     string
}

// NewThumbnail parses the target geometry and captures the crop flag from its
// trailing modifier.
func NewThumbnail(src *os.File, opts Options) (*Thumbnail, error) {
	target, err := geometry.Parse(opts.Geometry)
	if err != nil {
		return nil, err
	}
	format := opts.Format
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(src.Name()), ".")
	}
	return &Thumbnail{
		src:            src,
		target:         target,
		crop:           target.Crop(),
		format:         format,
		convertOptions: opts.ConvertOptions,
		whiny:          opts.Whiny,
		attachment:     opts.Attachment,
	}, nil
}

// Target returns the parsed target geometry.
func (t *Thumbnail) Target() geometry.Geometry { return t.target }

// Crop reports whether this transformation crops.
func (t *Thumbnail) Crop() bool { return t.crop }

// Make runs the tool once and returns a handle to the produced variant,
// positioned at offset zero. The caller owns the file and must remove it.
//
// A failed tool run returns (nil, nil) unless whiny is set; a missing tool
// binary is always an error.
func (t *Thumbnail) Make(ctx context.Context) (*os.File, error) {
	srcGeom, err := geometry.FromFile(ctx, t.src.Name())
	if err != nil {
		return nil, t.classify(err)
	}
	dstPath := filepath.Join(os.TempDir(), fmt.Sprintf("rivet-%s.%s", uuid.NewString(), t.format))
	args, err := t.arguments(srcGeom, dstPath)
	if err != nil {
		return nil, t.classify(err)
	}
	cmd := exec.CommandContext(ctx, ConvertCommand, args...)
	if out, runErr := cmd.CombinedOutput(); runErr != nil {
		os.Remove(dstPath)
		if errors.Is(runErr, exec.ErrNotFound) {
			return nil, &geometry.CommandNotFoundError{Command: ConvertCommand}
		}
		return nil, t.classify(fmt.Errorf("convert: %v: %s", runErr, strings.TrimSpace(string(out))))
	}
	dst, err := os.Open(dstPath)
	if err != nil {
		os.Remove(dstPath)
		return nil, t.classify(fmt.Errorf("open variant: %w", err))
	}
	return dst, nil
}

// arguments builds the tool invocation: source (first frame), resize clause,
// crop clause when cropping, then caller options last.
func (t *Thumbnail) arguments(src geometry.Geometry, dstPath string) ([]string, error) {
	scale, cropArg, err := src.Transformation(t.target, t.crop)
	if err != nil {
		return nil, err
	}
	args := []string{t.src.Name() + "[0]", "-resize", scale}
	if cropArg != "" {
		args = append(args, "-crop", cropArg, "+repage")
	}
	if t.convertOptions != "" {
		args = append(args, strings.Fields(t.convertOptions)...)
	}
	return append(args, dstPath), nil
}

// classify applies the failure policy: a missing binary or an unreadable
// source always surfaces, whiny wraps everything else in a ProcessingError,
// and non-whiny swallows the failure so the style simply produces no variant.
func (t *Thumbnail) classify(err error) error {
	var cnf *geometry.CommandNotFoundError
	if errors.As(err, &cnf) {
		return err
	}
	var nie *geometry.NotIdentifiedError
	if errors.As(err, &nie) {
		return err
	}
	if t.whiny {
		return &ProcessingError{Attachment: t.attachment, Err: err}
	}
	return nil
}
