package meta

// Tag identifiers written by an export. The two blocks mirror the layout of
// a camera original: identity in the primary directory, capture parameters
// in the capture sub-directory.
const (
	TagMake             = 0x010F
	TagModel            = 0x0110
	TagDateTime         = 0x0132
	TagDateTimeOriginal = 0x9003
	TagLensModel        = 0xA434
	TagFNumber          = 0x829D
	TagFocalLength      = 0x920A
	TagFocalLength35mm  = 0xA405
	TagISOSpeedRatings  = 0x8827
	TagPixelXDimension  = 0xA002
	TagPixelYDimension  = 0xA003
)

// RationalValue is an unsigned rational tag payload.
type RationalValue struct {
	Num uint32
	Den uint32
}

// Tag is one entry of a TagSet. Value is string, RationalValue, uint16 or
// uint32 depending on the tag's wire type.
type Tag struct {
	ID    uint16
	Name  string
	Value interface{}
}

// TagSet is the full ordered set of tags one export attempt embeds. It is
// rebuilt from the current Fields on every attempt and never stored.
type TagSet struct {
	Primary []Tag // root image directory
	Capture []Tag // capture parameter sub-directory
}

// BuildTagSet assembles the tag blocks from derived fields.
func BuildTagSet(f Fields) TagSet {
	ts := WireTimestamp(f.CaptureAt)
	fnum, fden := Rational(f.Aperture)
	flnum, flden := Rational(f.FocalMm)
	return TagSet{
		Primary: []Tag{
			{ID: TagMake, Name: "Make", Value: f.Make},
			{ID: TagModel, Name: "Model", Value: f.Model},
			{ID: TagDateTime, Name: "DateTime", Value: ts},
		},
		Capture: []Tag{
			{ID: TagDateTimeOriginal, Name: "DateTimeOriginal", Value: ts},
			{ID: TagLensModel, Name: "LensModel", Value: f.Lens},
			{ID: TagFNumber, Name: "FNumber", Value: RationalValue{Num: fnum, Den: fden}},
			{ID: TagFocalLength, Name: "FocalLength", Value: RationalValue{Num: flnum, Den: flden}},
			{ID: TagFocalLength35mm, Name: "FocalLengthIn35mmFilm", Value: uint16(f.Focal35Mm)},
			{ID: TagISOSpeedRatings, Name: "ISOSpeedRatings", Value: uint16(f.ISO)},
			{ID: TagPixelXDimension, Name: "PixelXDimension", Value: uint32(f.Width)},
			{ID: TagPixelYDimension, Name: "PixelYDimension", Value: uint32(f.Height)},
		},
	}
}
