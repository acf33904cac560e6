package satchel

import (
	"encoding/json"
	"fmt"
	"maps"
	"path"
	"strings"
)

// Well-known metadata keys.
const (
	MetaFilename = "filename"
	MetaSize     = "size"
	MetaMimeType = "mime_type"
)

// StoredFile references a file held in a storage.
// Identity is (Storage, ID); Metadata is informational.
// A StoredFile is a value and is never modified in place.
type StoredFile struct {
	Storage  string         `json:"storage"`
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata"`
}

// Equal reports whether f and other reference the same file.
func (f StoredFile) Equal(other StoredFile) bool {
	return f.Storage == other.Storage && f.ID == other.ID
}

// WithStorage returns a copy of f located in another storage under the same id.
func (f StoredFile) WithStorage(key string) StoredFile {
	return StoredFile{Storage: key, ID: f.ID, Metadata: maps.Clone(f.Metadata)}
}

// WithMetadata returns a copy of f with extra merged over its metadata.
func (f StoredFile) WithMetadata(extra map[string]any) StoredFile {
	meta := make(map[string]any, len(f.Metadata)+len(extra))
	maps.Copy(meta, f.Metadata)
	maps.Copy(meta, extra)
	return StoredFile{Storage: f.Storage, ID: f.ID, Metadata: meta}
}

// Size returns the byte size recorded in metadata.
// Sizes decoded from JSON arrive as float64 and are converted.
func (f StoredFile) Size() (int64, bool) {
	switch v := f.Metadata[MetaSize].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Filename returns the original filename, if recorded.
func (f StoredFile) Filename() string {
	s, _ := f.Metadata[MetaFilename].(string)
	return s
}

// MimeType returns the recorded MIME type, if any.
func (f StoredFile) MimeType() string {
	s, _ := f.Metadata[MetaMimeType].(string)
	return s
}

// Extension returns the lowercase extension of the id, or of the filename
// when the id has none, without the leading dot.
func (f StoredFile) Extension() string {
	ext := path.Ext(f.ID)
	if ext == "" {
		ext = path.Ext(f.Filename())
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// StringMetadata flattens metadata for backends that only store string pairs.
// Strings are kept as is and other values are JSON encoded. The MIME type is
// left out since backends store it as the object's content type.
func StringMetadata(metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if k == MetaMimeType {
			continue
		}
		switch s := v.(type) {
		case string:
			out[k] = s
		default:
			data, err := json.Marshal(v)
			if err != nil {
				out[k] = fmt.Sprint(v)
				continue
			}
			out[k] = string(data)
		}
	}
	return out
}

// ContentType returns the MIME type in metadata, or the generic binary type.
func ContentType(metadata map[string]any) string {
	if s, _ := metadata[MetaMimeType].(string); s != "" {
		return s
	}
	return "application/octet-stream"
}
