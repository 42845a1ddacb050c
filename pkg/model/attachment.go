package model

type AttachmentType int

const (
	AttachmentImage AttachmentType = iota
	AttachmentOther
)

func (t AttachmentType) String() string {
	switch t {
	case AttachmentImage:
		return "image"
	case AttachmentOther:
		return "other"
	default:
		return "unknown"
	}
}

const (
	MaxAttachmentSize   = 1 << 24
	MaxAttachmentWidth  = 1 << 12
	MaxAttachmentHeight = 1 << 12

	MinFilenameLength = 3
	MaxFilenameLength = 30
)

// Attachment describes a file stored next to a message. The body itself lives
// in a blob store keyed by the attachment id.
type Attachment struct {
	ID       int64          `json:"id"`
	Filename string         `json:"filename"`
	Type     AttachmentType `json:"type"`
	Width    int            `json:"width"`
	Height   int            `json:"height"`
	Size     int64          `json:"size"`
}

func NewAttachment(id int64, filename string, attachmentType AttachmentType, width, height int, size int64) (Attachment, error) {
	a := Attachment{ID: id, Filename: filename, Type: attachmentType, Width: width, Height: height, Size: size}
	return a, a.Validate()
}

func (a Attachment) Validate() error {
	if err := validateID(a.ID); err != nil {
		return err
	}
	if err := validateLength("filename", a.Filename, MinFilenameLength, MaxFilenameLength); err != nil {
		return err
	}
	if a.Size <= 0 || a.Size > MaxAttachmentSize {
		return invalidf("attachment size (%d) must be between 1 and %d", a.Size, MaxAttachmentSize)
	}

	switch a.Type {
	case AttachmentImage:
		if a.Width <= 0 || a.Width > MaxAttachmentWidth {
			return invalidf("width (%d) must be between 1 and %d", a.Width, MaxAttachmentWidth)
		}
		if a.Height <= 0 || a.Height > MaxAttachmentHeight {
			return invalidf("height (%d) must be between 1 and %d", a.Height, MaxAttachmentHeight)
		}
	case AttachmentOther:
		if a.Width != 0 || a.Height != 0 {
			return invalidf("width and height must be 0 for %s attachments", a.Type)
		}
	default:
		return invalidf("attachment type (%d) is unknown", a.Type)
	}
	return nil
}
