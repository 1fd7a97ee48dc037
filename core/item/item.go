// Package item defines the payload published through pubcontrol. An Item
// groups one or more named formats (an HTTP response body, a stream chunk,
// a raw value) under an optional id chain so that every endpoint type can
// pick the representation it understands.
package item

import (
	"errors"
	"fmt"
)

// ErrDuplicateFormat is returned when two formats share the same name.
var ErrDuplicateFormat = errors.New("duplicate format")

// Format is one representation of a published payload.
type Format interface {
	// Name is the key under which the format is exported.
	Name() string
	// Export returns the transport neutral representation of the format.
	Export() any
}

// BusExporter is implemented by formats whose bus representation differs
// from the HTTP one, for instance binary bodies that must not be base64
// encoded on the wire.
type BusExporter interface {
	ExportForBus() any
}

// Item is a publishable unit made of one or more formats.
type Item struct {
	ID      string
	PrevID  string
	formats []Format
}

// New builds an Item from the given formats. Format names must be unique.
func New(formats ...Format) (Item, error) {
	seen := make(map[string]struct{}, len(formats))
	for _, f := range formats {
		if _, ok := seen[f.Name()]; ok {
			return Item{}, fmt.Errorf("%w: %s", ErrDuplicateFormat, f.Name())
		}
		seen[f.Name()] = struct{}{}
	}
	return Item{formats: formats}, nil
}

// WithID returns a copy of the item carrying the given id and previous id.
func (i Item) WithID(id, prevID string) Item {
	i.ID = id
	i.PrevID = prevID
	return i
}

// Formats returns the formats held by the item.
func (i Item) Formats() []Format {
	out := make([]Format, len(i.formats))
	copy(out, i.formats)
	return out
}

// Export returns the item as a map keyed by format name. withHeaders adds
// the id and prev-id entries, forBus selects the bus representation of
// formats implementing BusExporter.
func (i Item) Export(withHeaders, forBus bool) map[string]any {
	out := make(map[string]any, len(i.formats)+2)
	if withHeaders {
		if i.ID != "" {
			out["id"] = i.ID
		}
		if i.PrevID != "" {
			out["prev-id"] = i.PrevID
		}
	}
	for _, f := range i.formats {
		if be, ok := f.(BusExporter); ok && forBus {
			out[f.Name()] = be.ExportForBus()
			continue
		}
		out[f.Name()] = f.Export()
	}
	return out
}
