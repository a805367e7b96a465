// Package asn1der reads the subset of ASN.1 DER used by RPKI signed objects.
//
// It is deliberately strict: definite-length encodings only, minimally encoded
// length prefixes, and the DER restrictions on primitive content (minimal
// INTEGERs, zero padding bits in BIT STRINGs). Anything else is rejected so
// that laxer decoders downstream can never be reached with non-canonical
// input.
package asn1der

import (
	"github.com/openrpki/rov-validator/pkg/errkind"
)

// Tag classes.
const (
	ClassUniversal       = 0
	ClassApplication     = 1
	ClassContextSpecific = 2
	ClassPrivate         = 3
)

// Universal tag numbers used by RPKI objects.
const (
	TagBoolean         = 1
	TagInteger         = 2
	TagBitString       = 3
	TagOctetString     = 4
	TagNull            = 5
	TagOID             = 6
	TagUTF8String      = 12
	TagSequence        = 16
	TagSet             = 17
	TagPrintableString = 19
	TagIA5String       = 22
	TagUTCTime         = 23
	TagGeneralizedTime = 24
)

// Element nesting deeper than this is treated as malformed. RPKI objects nest
// a dozen levels at most.
const maxDepth = 32

// TLV is one decoded tag-length-value element. Content and Full alias the
// input buffer; nothing is copied.
type TLV struct {
	Class       int
	Tag         int
	Constructed bool
	// Offset is the position of the tag byte in the original input;
	// ContentOffset the position of the first content byte.
	Offset        int
	ContentOffset int
	// Full covers the complete element including its header.
	Full    []byte
	Content []byte
}

// ContentReader returns a reader over the element's content, preserving
// offsets relative to the original input.
func (t TLV) ContentReader() *Reader {
	return &Reader{buf: t.Content, base: t.ContentOffset}
}

// Reader is a cursor over a DER buffer.
type Reader struct {
	buf  []byte
	base int
	pos  int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Empty reports whether the cursor has consumed the whole buffer.
func (r *Reader) Empty() bool {
	return r.pos >= len(r.buf)
}

// Offset returns the cursor position relative to the original input.
func (r *Reader) Offset() int {
	return r.base + r.pos
}

// ReadElement decodes the next element and advances the cursor past it.
func (r *Reader) ReadElement() (TLV, error) {
	start := r.Offset()
	if r.Empty() {
		return TLV{}, errkind.At(errkind.MalformedEncoding, start, "unexpected end of input")
	}

	b := r.buf[r.pos]
	t := TLV{
		Class:       int(b >> 6),
		Constructed: b&0x20 != 0,
		Tag:         int(b & 0x1f),
		Offset:      start,
	}
	if t.Tag == 0x1f {
		return TLV{}, errkind.At(errkind.MalformedEncoding, start, "multi-byte tags are not supported")
	}
	r.pos++

	length, err := r.readLength(start)
	if err != nil {
		return TLV{}, err
	}
	if length > len(r.buf)-r.pos {
		return TLV{}, errkind.At(errkind.MalformedEncoding, start, "length overruns buffer")
	}

	t.ContentOffset = r.Offset()
	t.Content = r.buf[r.pos : r.pos+length]
	headerLen := t.ContentOffset - start
	t.Full = r.buf[r.pos-headerLen : r.pos+length]
	r.pos += length
	return t, nil
}

// readLength decodes a definite-length prefix, rejecting indefinite and
// non-minimal forms.
func (r *Reader) readLength(elemStart int) (int, error) {
	if r.Empty() {
		return 0, errkind.At(errkind.MalformedEncoding, elemStart, "truncated length")
	}
	b := r.buf[r.pos]
	r.pos++

	if b < 0x80 {
		return int(b), nil
	}
	if b == 0x80 {
		return 0, errkind.At(errkind.MalformedEncoding, elemStart, "indefinite-length encoding is not DER")
	}

	n := int(b & 0x7f)
	if n > 4 {
		return 0, errkind.At(errkind.MalformedEncoding, elemStart, "length prefix too large")
	}
	if n > len(r.buf)-r.pos {
		return 0, errkind.At(errkind.MalformedEncoding, elemStart, "truncated length")
	}

	if r.buf[r.pos] == 0 {
		return 0, errkind.At(errkind.MalformedEncoding, elemStart, "non-minimal length encoding")
	}
	length := int64(0)
	for i := 0; i < n; i++ {
		length = length<<8 | int64(r.buf[r.pos+i])
	}
	r.pos += n
	if length < 0x80 {
		// Would have fit the short form.
		return 0, errkind.At(errkind.MalformedEncoding, elemStart, "non-minimal length encoding")
	}
	if length > int64(len(r.buf)) {
		return 0, errkind.At(errkind.MalformedEncoding, elemStart, "length overruns buffer")
	}
	return int(length), nil
}

// Expect reads the next element and fails unless it carries the given class
// and tag.
func (r *Reader) Expect(class, tag int) (TLV, error) {
	t, err := r.ReadElement()
	if err != nil {
		return TLV{}, err
	}
	if t.Class != class || t.Tag != tag {
		return TLV{}, errkind.At(
			errkind.MalformedEncoding,
			t.Offset,
			"unexpected tag",
		)
	}
	return t, nil
}

// ReadSequence reads a universal SEQUENCE and returns a reader over its
// content.
func (r *Reader) ReadSequence() (*Reader, error) {
	t, err := r.Expect(ClassUniversal, TagSequence)
	if err != nil {
		return nil, err
	}
	if !t.Constructed {
		return nil, errkind.At(errkind.MalformedEncoding, t.Offset, "SEQUENCE must be constructed")
	}
	return t.ContentReader(), nil
}

// intNonMinimal reports whether b, as INTEGER content octets, carries a
// redundant leading byte.
func intNonMinimal(b []byte) bool {
	return len(b) > 1 && (b[0] == 0x00 && b[1] < 0x80 || b[0] == 0xff && b[1] >= 0x80)
}

// ParseInt interprets b as the content octets of a DER INTEGER, enforcing
// minimal two's-complement encoding. Values outside int64 are rejected; the
// fields read through here (versions, AS numbers, prefix lengths) never
// legitimately exceed it.
func ParseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, errkind.New(errkind.MalformedEncoding, "empty INTEGER")
	}
	if intNonMinimal(b) {
		return 0, errkind.New(errkind.MalformedEncoding, "non-minimal INTEGER encoding")
	}
	if len(b) > 8 {
		return 0, errkind.New(errkind.MalformedEncoding, "INTEGER too large")
	}
	v := int64(0)
	if b[0]&0x80 != 0 {
		v = -1
	}
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v, nil
}

// CheckStrict verifies that buf holds exactly one well-formed strict-DER
// element with no trailing bytes, recursing through all constructed content.
func CheckStrict(buf []byte) error {
	r := NewReader(buf)
	if err := checkElement(r, 0); err != nil {
		return err
	}
	if !r.Empty() {
		return errkind.At(errkind.MalformedEncoding, r.Offset(), "trailing bytes after element")
	}
	return nil
}

func checkElement(r *Reader, depth int) error {
	if depth > maxDepth {
		return errkind.At(errkind.MalformedEncoding, r.Offset(), "nesting too deep")
	}
	t, err := r.ReadElement()
	if err != nil {
		return err
	}

	if t.Constructed {
		if t.Class == ClassUniversal && t.Tag != TagSequence && t.Tag != TagSet {
			return errkind.At(errkind.MalformedEncoding, t.Offset, "constructed encoding of a primitive type")
		}
		sub := t.ContentReader()
		for !sub.Empty() {
			if err := checkElement(sub, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	switch {
	case t.Class != ClassUniversal:
		return nil
	case t.Tag == TagSequence || t.Tag == TagSet:
		return errkind.At(errkind.MalformedEncoding, t.Offset, "primitive encoding of a constructed type")
	case t.Tag == TagBoolean:
		if len(t.Content) != 1 || (t.Content[0] != 0x00 && t.Content[0] != 0xff) {
			return errkind.At(errkind.MalformedEncoding, t.Offset, "invalid BOOLEAN encoding")
		}
	case t.Tag == TagInteger:
		// Oversized INTEGERs (certificate serials) are fine here, only
		// empty or non-minimal ones are malformed.
		if len(t.Content) == 0 {
			return errkind.At(errkind.MalformedEncoding, t.Offset, "empty INTEGER")
		}
		if intNonMinimal(t.Content) {
			return errkind.At(errkind.MalformedEncoding, t.Offset, "non-minimal INTEGER encoding")
		}
	case t.Tag == TagBitString:
		if len(t.Content) == 0 {
			return errkind.At(errkind.MalformedEncoding, t.Offset, "empty BIT STRING")
		}
		unused := t.Content[0]
		if unused > 7 || (len(t.Content) == 1 && unused != 0) {
			return errkind.At(errkind.MalformedEncoding, t.Offset, "invalid BIT STRING padding")
		}
		if len(t.Content) > 1 && unused > 0 {
			last := t.Content[len(t.Content)-1]
			if last&(1<<unused-1) != 0 {
				return errkind.At(errkind.MalformedEncoding, t.Offset, "nonzero BIT STRING padding bits")
			}
		}
	case t.Tag == TagNull:
		if len(t.Content) != 0 {
			return errkind.At(errkind.MalformedEncoding, t.Offset, "NULL with content")
		}
	case t.Tag == TagOID:
		if len(t.Content) == 0 {
			return errkind.At(errkind.MalformedEncoding, t.Offset, "empty OBJECT IDENTIFIER")
		}
	}
	return nil
}
