// Package columns holds the server-declared fields of each record target and
// compiles them into fixed-shape record schemas.
//
// Columns live in an arena owned by Registry and reference each other by Ref
// (an index into the arena), never by pointer. Everything outside the package
// refers to a column by its composite ID ("tasks:data.image").
package columns

import "strings"

// Type is the declared display/value type of a column.
type Type string

// Column types declared by the server.
const (
	TypeString     Type = "String"
	TypeNumber     Type = "Number"
	TypeBoolean    Type = "Boolean"
	TypeDatetime   Type = "Datetime"
	TypeList       Type = "List"
	TypeImage      Type = "Image"
	TypeAudio      Type = "Audio"
	TypeAudioPlus  Type = "AudioPlus"
	TypeVideo      Type = "Video"
	TypeText       Type = "Text"
	TypeHyperText  Type = "HyperText"
	TypeTimeSeries Type = "TimeSeries"
	TypeUnknown    Type = "Unknown"
)

var knownTypes = map[string]Type{
	"string":     TypeString,
	"number":     TypeNumber,
	"boolean":    TypeBoolean,
	"datetime":   TypeDatetime,
	"date":       TypeDatetime,
	"list":       TypeList,
	"image":      TypeImage,
	"audio":      TypeAudio,
	"audioplus":  TypeAudioPlus,
	"video":      TypeVideo,
	"text":       TypeText,
	"hypertext":  TypeHyperText,
	"timeseries": TypeTimeSeries,
	"unknown":    TypeUnknown,
}

// ParseType maps a server type name to a Type. Unrecognized names map to
// TypeUnknown.
func ParseType(s string) Type {
	if t, ok := knownTypes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return TypeUnknown
}

// Kind returns the value kind records store for columns of this type.
func (t Type) Kind() Kind {
	switch t {
	case TypeNumber:
		return KindNumber
	case TypeBoolean:
		return KindBool
	case TypeDatetime:
		return KindTime
	case TypeList:
		return KindList
	default:
		return KindString
	}
}

// Target is the record collection a column belongs to.
type Target string

// Record targets.
const (
	TargetTasks       Target = "tasks"
	TargetAnnotations Target = "annotations"
)

// DefaultTarget is used when the server omits a target.
const DefaultTarget = TargetTasks

// ParseTarget maps a server target name to a Target, defaulting to tasks.
func ParseTarget(s string) Target {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "annotations":
		return TargetAnnotations
	case "", "tasks":
		return TargetTasks
	default:
		return Target(s)
	}
}

// Mode selects which hidden-column set applies.
type Mode string

// View modes with independent column visibility.
const (
	ModeExplore  Mode = "explore"
	ModeLabeling Mode = "labeling"
)

// HiddenColumns lists hidden column IDs per view mode.
type HiddenColumns struct {
	Explore  []string `json:"explore" yaml:"explore"`
	Labeling []string `json:"labeling" yaml:"labeling"`
}

// For returns the hidden set of the given mode.
func (h HiddenColumns) For(m Mode) []string {
	if m == ModeLabeling {
		return h.Labeling
	}
	return h.Explore
}

// Clone returns a deep copy.
func (h HiddenColumns) Clone() HiddenColumns {
	return HiddenColumns{
		Explore:  append([]string{}, h.Explore...),
		Labeling: append([]string{}, h.Labeling...),
	}
}

// CompositeID builds the registry-wide column identifier.
func CompositeID(target Target, path string) string {
	return string(target) + ":" + path
}

// SplitID splits a composite ID into target and dotted path. IDs without a
// target prefix are treated as paths on the default target.
func SplitID(id string) (Target, string) {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return ParseTarget(id[:i]), id[i+1:]
	}
	return DefaultTarget, id
}
