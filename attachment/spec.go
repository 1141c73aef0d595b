package attachment

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rivetlabs/rivet/interpolation"
	"github.com/rivetlabs/rivet/storage"
)

// OriginalStyle is the reserved style holding the upload as-is; the processor
// never runs for it.
const OriginalStyle = "original"

// Default templates. The URL template doubles as the storage path template
// unless the spec overrides it.
const (
	DefaultURLTemplate        = "/:class/:attachment/:id/:style_:filename"
	DefaultMissingURLTemplate = "/:class/:attachment/missing_:style.png"
)

// Style is one named variant configuration.
type Style struct {
	// Geometry is the target spec, e.g. "100x100#".
	Geometry string
	// Format overrides the variant's extension (e.g. "png"); empty keeps the
	// original's.
	Format string
	// ConvertOptions are appended to the tool invocation after the
	// geometry-derived arguments.
	ConvertOptions string
}

// Spec is the declaration-time configuration for one named attachment on one
// entity type. Pass it to Define once; the frozen result is shared read-only
// by every record instance.
type Spec struct {
	Name               string
	Styles             map[string]Style
	DefaultStyle       string
	PathTemplate       string
	URLTemplate        string
	DefaultURLTemplate string
	Whiny              bool
	Validations        []Validation
	Backend            storage.Backend
	Interpolator       *interpolation.Interpolator
}

// Definition is the frozen handle returned by Define. It replaces dynamic
// per-name method synthesis: hosts keep the handle and fetch per-record
// attachments through Attachments.Get.
type Definition struct {
	spec       Spec
	styleNames []string // OriginalStyle first, the rest sorted
}

// Define validates and freezes a Spec.
func Define(spec Spec) (*Definition, error) {
	if spec.Name == "" {
		return nil, errors.New("attachment: spec needs a name")
	}
	if spec.Backend == nil {
		return nil, fmt.Errorf("attachment %q: spec needs a storage backend", spec.Name)
	}
	if spec.DefaultStyle == "" {
		spec.DefaultStyle = OriginalStyle
	}
	if spec.URLTemplate == "" {
		spec.URLTemplate = DefaultURLTemplate
	}
	if spec.PathTemplate == "" {
		spec.PathTemplate = spec.URLTemplate
	}
	if spec.DefaultURLTemplate == "" {
		spec.DefaultURLTemplate = DefaultMissingURLTemplate
	}
	if spec.Interpolator == nil {
		spec.Interpolator = interpolation.New()
	}
	styles := make(map[string]Style, len(spec.Styles)+1)
	for name, st := range spec.Styles {
		styles[name] = st
	}
	if _, ok := styles[OriginalStyle]; !ok {
		styles[OriginalStyle] = Style{}
	}
	if _, ok := styles[spec.DefaultStyle]; !ok {
		return nil, fmt.Errorf("attachment %q: default style %q is not configured", spec.Name, spec.DefaultStyle)
	}
	spec.Styles = styles

	names := make([]string, 0, len(styles))
	for name := range styles {
		if name != OriginalStyle {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return &Definition{
		spec:       spec,
		styleNames: append([]string{OriginalStyle}, names...),
	}, nil
}

// Name returns the attachment name.
func (d *Definition) Name() string { return d.spec.Name }

// StyleNames lists every configured style, OriginalStyle first and the rest
// in sorted order. The order fixes processing and error-reporting sequence.
func (d *Definition) StyleNames() []string {
	out := make([]string, len(d.styleNames))
	copy(out, d.styleNames)
	return out
}
