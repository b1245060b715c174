package upload

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// PDFContentType is the only content type accepted.
const PDFContentType = "application/pdf"

// Kind classifies a rejected upload.
type Kind string

const (
	KindTooLarge    Kind = "too_large"
	KindInvalidType Kind = "invalid_type"
	KindUpload      Kind = "upload_failed"
)

const (
	MsgInvalidType = "Invalid file type. Please upload a PDF file."
	MsgSingleFile  = "Please upload exactly one PDF file."
	MsgUnreadable  = "The uploaded file could not be read. Please try again."
)

// Error is a user-facing rejection of an upload.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// TooLargeMessage is the rejection text for files above limit bytes.
func TooLargeMessage(limit int64) string {
	return fmt.Sprintf("File is too large. Maximum size is %s.", SizeLimit(limit))
}

// SizeLimit renders a byte limit for people, e.g. "2.0 MiB".
func SizeLimit(limit int64) string {
	return humanize.IBytes(uint64(limit))
}

// File is an uploaded statement that passed validation.
type File struct {
	Name string
	Size int64
	Data []byte
}

// Validator checks uploads against the size limit and type rules.
type Validator struct {
	MaxBytes int64
}

// ValidateForm accepts the "file" parts of a multipart form. Exactly one
// part must be present.
func (v Validator) ValidateForm(form *multipart.Form) (*File, error) {
	if form == nil || len(form.File["file"]) != 1 {
		return nil, &Error{Kind: KindUpload, Message: MsgSingleFile}
	}
	fh := form.File["file"][0]

	if fh.Size > v.MaxBytes {
		return nil, &Error{Kind: KindTooLarge, Message: TooLargeMessage(v.MaxBytes)}
	}
	if !isPDFType(fh.Header.Get("Content-Type")) {
		return nil, &Error{Kind: KindInvalidType, Message: MsgInvalidType}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, &Error{Kind: KindUpload, Message: MsgUnreadable, Err: err}
	}
	defer f.Close()

	// Read one byte past the limit so a lying Size header is still caught.
	data, err := io.ReadAll(io.LimitReader(f, v.MaxBytes+1))
	if err != nil {
		return nil, &Error{Kind: KindUpload, Message: MsgUnreadable, Err: err}
	}
	return v.Validate(fh.Filename, PDFContentType, data)
}

// Validate checks a single file already held in memory. contentType is the
// type the client declared for it.
func (v Validator) Validate(name, contentType string, data []byte) (*File, error) {
	if int64(len(data)) > v.MaxBytes {
		return nil, &Error{Kind: KindTooLarge, Message: TooLargeMessage(v.MaxBytes)}
	}
	if !isPDFType(contentType) {
		return nil, &Error{Kind: KindInvalidType, Message: MsgInvalidType}
	}
	if detected := mimetype.Detect(data); !detected.Is(PDFContentType) {
		return nil, &Error{
			Kind:    KindInvalidType,
			Message: MsgInvalidType,
			Err:     fmt.Errorf("content detected as %s", detected.String()),
		}
	}
	return &File{Name: name, Size: int64(len(data)), Data: data}, nil
}

// ContentTypeForName guesses the declared type of a local file from its extension.
func ContentTypeForName(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return mime.TypeByExtension(strings.ToLower(name[i:]))
}

func isPDFType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, PDFContentType)
}
