package publish

import "strings"

// MediaKind is the coarse type of a media item.
type MediaKind int

const (
	KindOther MediaKind = iota
	KindImage
	KindVideo
)

func (k MediaKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	default:
		return "other"
	}
}

// IsImage reports whether mimetype is an image/* type.
func IsImage(mimetype string) bool {
	return hasPrefixFold(mimetype, "image/")
}

// IsVideo reports whether mimetype is a video/* type.
func IsVideo(mimetype string) bool {
	return hasPrefixFold(mimetype, "video/")
}

// Classify maps a MIME type to its MediaKind.
func Classify(mimetype string) MediaKind {
	switch {
	case IsImage(mimetype):
		return KindImage
	case IsVideo(mimetype):
		return KindVideo
	default:
		return KindOther
	}
}

// Kind classifies the item by its MIME type.
func (m MediaItem) Kind() MediaKind { return Classify(m.MimeType) }

// FirstVideo returns the first video in items.
func FirstVideo(items []MediaItem) (MediaItem, bool) {
	return firstOfKind(items, KindVideo)
}

// FirstImage returns the first image in items.
func FirstImage(items []MediaItem) (MediaItem, bool) {
	return firstOfKind(items, KindImage)
}

// Visual drops every item that is neither an image nor a video, keeping order.
func Visual(items []MediaItem) []MediaItem {
	out := make([]MediaItem, 0, len(items))
	for _, item := range items {
		if item.Kind() != KindOther {
			out = append(out, item)
		}
	}
	return out
}

// Fallback picks the single item to post when a provider cannot represent the whole set:
// the first video, otherwise the first image.
func Fallback(items []MediaItem) (MediaItem, bool) {
	if v, ok := FirstVideo(items); ok {
		return v, true
	}
	return FirstImage(items)
}

func firstOfKind(items []MediaItem, kind MediaKind) (MediaItem, bool) {
	for _, item := range items {
		if item.Kind() == kind {
			return item, true
		}
	}
	return MediaItem{}, false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
