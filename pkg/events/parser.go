package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	SupportedEventVersion      = "v2.1"
	SupportedEventMajorVersion = "v2"

	EventTypeTest                = "s3:TestEvent"
	EventTypeObjectCreatedPrefix = "s3:ObjectCreated:"
	EventTypeObjectRemovedPrefix = "s3:ObjectRemoved:"
)

// Record is the Go-ish version of the JSON object sent as an S3 event.
type Record struct {
	EventVersion string    `json:"eventVersion"`
	EventTime    time.Time `json:"eventTime"`
	EventName    string    `json:"eventName"`
	S3           struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key       string `json:"key"`
			Size      *int64 `json:"size"`
			ETag      string `json:"eTag"`
			Sequencer string `json:"sequencer"`
		} `json:"object"`
	} `json:"s3"`
}

// Change is one object-level size change extracted from a Record.
type Change struct {
	// Path is the complete S3 path to the object, "s3://...".
	Path string
	// SizeBytes is the object's new size.  Meaningless when Removed.
	SizeBytes int64
	// Removed is true when the object was deleted.  Removal events carry
	// no size; the size model subtracts the last size it saw for Path.
	Removed bool
}

var (
	ErrBadVersion   = errors.New("version incompatible with " + SupportedEventVersion)
	ErrNotAChange   = errors.New("not a change")
	ErrUnknownEvent = errors.New("unknown event name")
	ErrMissingField = errors.New("field missing")
)

func checkVersion(version string) error {
	if version == SupportedEventVersion {
		return nil
	}
	if !strings.HasPrefix(version, "v") {
		// AWS version strings don't start with "v", Go semver strings do...
		version = "v" + version
	}
	major := semver.Major(version)
	if major != SupportedEventMajorVersion || semver.Compare(version, SupportedEventVersion) < 0 {
		return fmt.Errorf("%s: %w", version, ErrBadVersion)
	}
	return nil
}

// ComputeChange extracts a Change from an S3 event record.  It returns
// ErrNotAChange for events that do not affect any object's size, or
// ErrUnknownEvent if it could not even recognize the event type.
func ComputeChange(r *Record) (Change, error) {
	if err := checkVersion(r.EventVersion); err != nil {
		return Change{}, err
	}
	if r.EventName == EventTypeTest {
		return Change{}, ErrNotAChange
	}
	removed := strings.HasPrefix(r.EventName, EventTypeObjectRemovedPrefix)
	if !removed && !strings.HasPrefix(r.EventName, EventTypeObjectCreatedPrefix) {
		return Change{}, fmt.Errorf("%s: %w", r.EventName, ErrUnknownEvent)
	}

	bucket := r.S3.Bucket.Name
	if bucket == "" {
		return Change{}, fmt.Errorf("bucket.name %w", ErrMissingField)
	}
	key := r.S3.Object.Key
	if key == "" {
		return Change{}, fmt.Errorf("object.key %w", ErrMissingField)
	}
	change := Change{
		Path:    "s3://" + bucket + "/" + key,
		Removed: removed,
	}
	if !removed {
		if r.S3.Object.Size == nil {
			return Change{}, fmt.Errorf("object.size %w", ErrMissingField)
		}
		change.SizeBytes = *r.S3.Object.Size
	}
	return change, nil
}
