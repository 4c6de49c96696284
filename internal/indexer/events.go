package indexer

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// SubCategoryData marks events about uploaded content rather than
	// resource metadata.
	SubCategoryData = "data"

	PropertyContentType = "contentType"
	PropertyContentURI  = "contentUri"
	PropertyContentPath = "contentPath"

	// ResourceContentType is the content type mapped for plain resource
	// metadata events.
	ResourceContentType = "application/vnd.datamanager.data-resource+json"

	// ArtifactSuffix replaces the extension of transformed files.
	ArtifactSuffix = ".elastic.json"

	generatedDir = "generated"
)

// InboundEvent is a repository lifecycle message as delivered by the bus.
type InboundEvent struct {
	// Category is the resource kind the event is about, e.g. "dataresource".
	Category    string            `json:"type"`
	Action      string            `json:"action,omitempty"`
	SubCategory string            `json:"subCategory,omitempty"`
	Principal   string            `json:"principal,omitempty"`
	Sender      string            `json:"sender,omitempty"`
	Addressees  []string          `json:"addressees,omitempty"`
	Timestamp   int64             `json:"currentTimestamp,omitempty"`
	EntityID    string            `json:"entityId"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IsAddressedTo reports whether handlerID is one of the addressees.
func (e InboundEvent) IsAddressedTo(handlerID string) bool {
	return slices.Contains(e.Addressees, handlerID)
}

// IsContentEvent reports whether the event is about uploaded content.
func (e InboundEvent) IsContentEvent() bool {
	return e.SubCategory == SubCategoryData
}

// ContentType, ContentURI and ContentPath read the content properties of the
// event metadata; they are empty when absent.
func (e InboundEvent) ContentType() string { return e.Metadata[PropertyContentType] }
func (e InboundEvent) ContentURI() string  { return e.Metadata[PropertyContentURI] }
func (e InboundEvent) ContentPath() string { return e.Metadata[PropertyContentPath] }

// validateEntityID guards values that end up in local file names and
// repository paths.
func validateEntityID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("entity id is empty")
	case strings.ContainsAny(id, `/\`), id == ".", id == "..":
		return fmt.Errorf("entity id %q is not a single path segment", id)
	}
	return nil
}

// Result is the outcome of handling one event.
type Result int

const (
	// ResultRejected means the handler declined the event. It is not an error.
	ResultRejected Result = iota
	// ResultSucceeded means an artifact was produced and uploaded.
	ResultSucceeded
	// ResultFailed means an attempted transformation did not complete.
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSucceeded:
		return "SUCCEEDED"
	case ResultFailed:
		return "FAILED"
	default:
		return "REJECTED"
	}
}

// MarshalText encodes a Result by its name.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ArtifactGeneratedType is the event_type header of ArtifactGenerated messages.
const ArtifactGeneratedType = "artifact.generated"

// ArtifactGenerated is published after a generated document was uploaded.
type ArtifactGenerated struct {
	ID          string    `json:"id"`
	EntityID    string    `json:"entity_id"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"path"`
	Uploader    string    `json:"uploader"`
	CreatedAt   time.Time `json:"created_at"`
}
