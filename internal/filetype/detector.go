package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// UnsupportedExtensionError means the input file type is not recognized.
// It is fatal and surfaced immediately, never retried.
type UnsupportedExtensionError struct {
	Path string
	Ext  string
}

func (e *UnsupportedExtensionError) Error() string {
	return fmt.Sprintf("unsupported file extension %q (%s)", e.Ext, e.Path)
}

// contentTypes maps recognized extensions to their transport content type.
var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

// conversionExts are Office-style extensions accepted after LibreOffice
// conversion to PDF.
var conversionExts = map[string]string{
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".rtf":  "application/rtf",
}

// ResolveContentType maps a file extension to its transport content type.
func ResolveContentType(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := contentTypes[ext]; ok {
		return ct, nil
	}
	if ct, ok := conversionExts[ext]; ok {
		return ct, nil
	}
	return "", &UnsupportedExtensionError{Path: path, Ext: ext}
}

// Info describes a detected input file.
type Info struct {
	MIMEType        string
	Extension       string
	IsPDF           bool
	IsImage         bool
	NeedsConversion bool
	Supported       bool
	Description     string
}

// Detector classifies input files by magic bytes, not filename.
type Detector struct{}

// New creates a file type detector.
func New() *Detector {
	return &Detector{}
}

// Detect reads the file's magic bytes and classifies it. The extension is
// consulted only to disambiguate ZIP/OLE containers that modern and legacy
// Office formats share.
func (d *Detector) Detect(path string) (*Info, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect file type: %w", err)
	}

	mimeType := mtype.String()
	extension := mtype.Extension()

	if mimeType == "application/zip" || mimeType == "application/x-ole-storage" || mimeType == "application/x-cfb" {
		ext := strings.ToLower(filepath.Ext(path))
		if override, ok := conversionExts[ext]; ok {
			log.Debug().Str("original", mimeType).Str("override", override).Msg("overriding container detection based on extension")
			mimeType = override
			extension = ext
		}
	}

	info := &Info{MIMEType: mimeType, Extension: extension}
	d.classify(info)

	log.Debug().
		Str("file", path).
		Str("mime", info.MIMEType).
		Str("desc", info.Description).
		Bool("supported", info.Supported).
		Msg("detected file type")
	return info, nil
}

func (d *Detector) classify(info *Info) {
	switch {
	case info.MIMEType == "application/pdf":
		info.IsPDF = true
		info.Supported = true
		info.Description = "PDF document"

	case strings.HasPrefix(info.MIMEType, "image/"):
		info.IsImage = true
		info.Supported = true
		info.Description = "Image file"

	case isConvertible(info.MIMEType):
		info.NeedsConversion = true
		info.Supported = true
		info.Description = "Office document (converted to PDF before analysis)"

	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
}

func isConvertible(mimeType string) bool {
	for _, ct := range conversionExts {
		if ct == mimeType {
			return true
		}
	}
	return false
}
