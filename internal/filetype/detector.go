package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfdesk/internal/document"
)

// Class is the broad kind of an upload, deciding which operations accept it.
type Class int

const (
	Unsupported Class = iota
	PDF
	Image
	Office
)

func (c Class) String() string {
	switch c {
	case PDF:
		return "pdf"
	case Image:
		return "image"
	case Office:
		return "office"
	default:
		return "unsupported"
	}
}

// Info contains detected file type information
type Info struct {
	MIMEType    string
	Extension   string
	Class       Class
	Description string
}

// zip containers whose real type is only visible from the file name
var zipOffice = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
}

// legacy OLE/CFB office formats
var oleOffice = map[string]string{
	".doc": "application/msword",
	".xls": "application/vnd.ms-excel",
	".ppt": "application/vnd.ms-powerpoint",
}

var officeDescriptions = map[string]string{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "Microsoft Word document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "Microsoft Excel spreadsheet",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "Microsoft PowerPoint presentation",
	"application/msword":                            "Microsoft Word document (legacy)",
	"application/vnd.ms-excel":                      "Microsoft Excel spreadsheet (legacy)",
	"application/vnd.ms-powerpoint":                 "Microsoft PowerPoint presentation (legacy)",
	"application/vnd.oasis.opendocument.text":         "OpenDocument text",
	"application/vnd.oasis.opendocument.spreadsheet":  "OpenDocument spreadsheet",
	"application/vnd.oasis.opendocument.presentation": "OpenDocument presentation",
	"application/rtf": "Rich Text Format",
}

// Detect classifies an upload by its magic bytes. The name is consulted only
// to tell apart container formats that share a signature (zip, OLE).
func Detect(name string, data []byte) *Info {
	mt := mimetype.Detect(data)
	mime := mt.String()
	ext := mt.Extension()
	nameExt := strings.ToLower(filepath.Ext(name))

	switch {
	case mt.Is("application/zip"):
		if m, ok := zipOffice[nameExt]; ok {
			mime, ext = m, nameExt
		}
	case mt.Is("application/x-ole-storage"):
		if m, ok := oleOffice[nameExt]; ok {
			mime, ext = m, nameExt
		}
	}
	if mime != mt.String() {
		log.Debug().Str("original", mt.String()).Str("override", mime).Str("file", name).Msg("overriding container detection based on extension")
	}

	info := &Info{MIMEType: mime, Extension: ext}
	classify(info, mt)
	log.Debug().Str("mime", info.MIMEType).Str("class", info.Class.String()).Str("file", name).Msg("detected file type")
	return info
}

func classify(info *Info, mt *mimetype.MIME) {
	if desc, ok := officeDescriptions[info.MIMEType]; ok {
		info.Class = Office
		info.Description = desc
		return
	}
	// mimetype reports the most specific type; office formats it knows natively
	// (docx, xlsx, odt, ...) still need the description lookup above
	for m := mt; m != nil; m = m.Parent() {
		if desc, ok := officeDescriptions[m.String()]; ok {
			info.MIMEType = m.String()
			info.Class = Office
			info.Description = desc
			return
		}
	}
	switch {
	case info.MIMEType == "application/pdf":
		info.Class = PDF
		info.Description = "PDF document"
	case document.IsSupportedImage(info.MIMEType):
		info.Class = Image
		info.Description = "Image file"
	default:
		info.Class = Unsupported
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
}

// RequiresConversion reports whether the upload must go through the office
// converter before document operations can use it.
func (i *Info) RequiresConversion() bool { return i.Class == Office }
