package archive

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/hyperengineering/studysync/internal/types"
)

// xmlResponses mirrors the document findscu writes with --extract-xml-single.
type xmlResponses struct {
	XMLName  xml.Name     `xml:"responses"`
	DataSets []xmlDataSet `xml:"data-set"`
}

type xmlDataSet struct {
	Elements []xmlElement `xml:"element"`
}

type xmlElement struct {
	Tag   string `xml:"tag,attr"`
	VR    string `xml:"vr,attr"`
	Value string `xml:",chardata"`
}

// ParseResponses decodes C-FIND responses into raw identities, one per data
// set. Attributes absent from a response come back as empty strings so the
// record still counts.
func ParseResponses(r io.Reader) ([]types.RawIdentity, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader

	var doc xmlResponses
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	records := make([]types.RawIdentity, 0, len(doc.DataSets))
	for _, ds := range doc.DataSets {
		id := types.RawIdentity{SubjectName: "", SubjectID: "", StudyDate: ""}
		for _, el := range ds.Elements {
			switch strings.ToLower(el.Tag) {
			case tagPatientName:
				id.SubjectName = el.Value
			case tagPatientID:
				id.SubjectID = el.Value
			case tagStudyDate:
				id.StudyDate = el.Value
			}
		}
		records = append(records, id)
	}
	return records, nil
}

// charsetReader handles the ISO-8859-1 documents dcmtk writes by default.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	}
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
