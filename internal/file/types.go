package file

import (
	"time"

	"github.com/google/uuid"
)

// FileArea is a file echo: a directory of distributed files.
type FileArea struct {
	ID            int       `json:"id"`
	Tag           string    `json:"tag"` // e.g., "FSX_NODE" (unique, uppercase)
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Path          string    `json:"path"` // relative to the file base path
	Domain        string    `json:"domain"`
	UplinkAddress string    `json:"uplink_address,omitempty"`
	AutoCreated   bool      `json:"auto_created,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// FileRecord holds metadata about a file stored in a FileArea.
type FileRecord struct {
	ID              uuid.UUID `json:"id"`
	AreaID          int       `json:"area_id"`
	Filename        string    `json:"filename"` // basename on disk
	Description     string    `json:"description"`
	LongDescription []string  `json:"long_description,omitempty"`
	Size            int64     `json:"size"`
	CRC32           string    `json:"crc32"` // 8 uppercase hex digits
	Hash            string    `json:"hash"`  // BLAKE2b-256, hex
	UploadedAt      time.Time `json:"uploaded_at"`
	UploadedBy      string    `json:"uploaded_by"` // FTN address of the sender
	Origin          string    `json:"origin,omitempty"`
	Path            []string  `json:"path,omitempty"`
}
