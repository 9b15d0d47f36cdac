package assembler

import (
	"github.com/local/pdfdesk/internal/archive"
	"github.com/local/pdfdesk/internal/bytesize"
)

type part struct {
	name  string
	data  []byte
	pages int
}

// packageParts returns a lone part unchanged; several parts become one zip
// named archiveName with entries in part order.
func packageParts(op, archiveName string, parts []part) (*Artifact, error) {
	if len(parts) == 1 {
		return single(parts[0].name, parts[0].data, parts[0].pages), nil
	}
	ar := archive.New()
	pages := 0
	for _, p := range parts {
		if err := ar.Add(p.name, p.data); err != nil {
			return nil, newError(ArchiveError, op, err)
		}
		pages += p.pages
	}
	data, err := ar.Bytes()
	if err != nil {
		return nil, newError(ArchiveError, op, err)
	}
	return &Artifact{
		Name:        archiveName,
		ContentType: ContentTypeZip,
		Data:        data,
		Size:        bytesize.Format(int64(len(data))),
		Pages:       pages,
	}, nil
}
