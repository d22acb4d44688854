package bodystructure

import (
	"maps"
	"slices"

	"github.com/emersion/go-imap/v2"
)

// FromIMAP converts a BODYSTRUCTURE returned by go-imap into a Part tree.
// It returns nil if bs is nil.
func FromIMAP(bs imap.BodyStructure) *Part {
	switch bs := bs.(type) {
	case *imap.BodyStructureMultiPart:
		if bs == nil {
			return nil
		}
		return fromMultiPart(bs)
	case *imap.BodyStructureSinglePart:
		if bs == nil {
			return nil
		}
		return fromSinglePart(bs)
	default:
		return nil
	}
}

func fromMultiPart(bs *imap.BodyStructureMultiPart) *Part {
	f := Fields{Subtype: bs.Subtype, Size: -1}

	if bs.Extended != nil {
		f.Params = paramsFromMap(bs.Extended.Params)
		setDisposition(&f, bs.Extended.Disposition)
	}

	children := make([]*Part, 0, len(bs.Children))
	for _, c := range bs.Children {
		if p := FromIMAP(c); p != nil {
			children = append(children, p)
		}
	}

	return NewMultipart(f, children...)
}

func fromSinglePart(bs *imap.BodyStructureSinglePart) *Part {
	f := Fields{
		Type:     bs.Type,
		Subtype:  bs.Subtype,
		Encoding: bs.Encoding,
		Size:     int64(bs.Size),
		Params:   paramsFromMap(bs.Params),
	}

	if bs.Extended != nil {
		setDisposition(&f, bs.Extended.Disposition)
	}

	if ParseMediaType(bs.Type) == TypeMessage && bs.MessageRFC822 != nil {
		return NewMessage(f, FromIMAP(bs.MessageRFC822.BodyStructure))
	}

	return NewLeaf(f)
}

func setDisposition(f *Fields, d *imap.BodyStructureDisposition) {
	if d == nil {
		return
	}

	f.Disposition = d.Value
	f.DispositionParams = paramsFromMap(d.Params)
}

// paramsFromMap returns the parameters sorted by key, RFC 2231
// continuations ("name*0", "name*1") keep their order.
func paramsFromMap(m map[string]string) []Param {
	if len(m) == 0 {
		return nil
	}

	res := make([]Param, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		res = append(res, Param{Key: k, Value: m[k]})
	}

	return res
}
