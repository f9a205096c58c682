package photo

import (
	"bytes"
	"fmt"

	"github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"

	"camforge/internal/meta"
)

// EmbedTags splices ts into jpegData as a fresh APP1 block and returns the
// rewritten stream. jpegData is expected to come out of a Normalizer, so
// there is no prior metadata to merge with.
func EmbedTags(jpegData []byte, ts meta.TagSet) ([]byte, error) {
	jmp := jpegstructure.NewJpegMediaParser()
	intfc, err := jmp.ParseBytes(jpegData)
	if err != nil {
		return nil, fmt.Errorf("parse jpeg: %w", err)
	}
	sl := intfc.(*jpegstructure.SegmentList)

	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, fmt.Errorf("ifd mapping: %w", err)
	}
	ti := exif.NewTagIndex()
	rootIb := exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity,
		exifcommon.EncodeDefaultByteOrder)

	rootIfd, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD0")
	if err != nil {
		return nil, fmt.Errorf("ifd0: %w", err)
	}
	for _, tag := range ts.Primary {
		if err := setTag(rootIfd, tag); err != nil {
			return nil, err
		}
	}

	exifIfd, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/Exif")
	if err != nil {
		return nil, fmt.Errorf("exif ifd: %w", err)
	}
	for _, tag := range ts.Capture {
		if err := setTag(exifIfd, tag); err != nil {
			return nil, err
		}
	}

	if err := sl.SetExif(rootIb); err != nil {
		return nil, fmt.Errorf("set exif: %w", err)
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return nil, fmt.Errorf("write jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func setTag(ib *exif.IfdBuilder, tag meta.Tag) error {
	var value interface{}
	switch v := tag.Value.(type) {
	case string:
		value = v
	case meta.RationalValue:
		value = []exifcommon.Rational{{Numerator: v.Num, Denominator: v.Den}}
	case uint16:
		value = []uint16{v}
	case uint32:
		value = []uint32{v}
	default:
		return fmt.Errorf("tag %s: unsupported value type %T", tag.Name, tag.Value)
	}
	if err := ib.SetStandardWithName(tag.Name, value); err != nil {
		return fmt.Errorf("tag %s: %w", tag.Name, err)
	}
	return nil
}
