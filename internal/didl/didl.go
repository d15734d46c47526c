// Package didl builds and parses DIDL-Lite metadata documents.
package didl

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/tessro/avctl/internal/core"
)

const (
	nsDIDL = "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
	nsDC   = "http://purl.org/dc/elements/1.1/"
	nsUPnP = "urn:schemas-upnp-org:metadata-1-0/upnp/"
)

// Default object classes.
const (
	ClassAudioItem = "object.item.audioItem.musicTrack"
	ClassVideoItem = "object.item.videoItem"
	ClassImageItem = "object.item.imageItem.photo"
	ClassItem      = "object.item"
	ClassContainer = "object.container"
)

// Document is a DIDL-Lite document.
type Document struct {
	XMLName    xml.Name    `xml:"urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/ DIDL-Lite"`
	Items      []Object    `xml:"urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/ item"`
	Containers []Container `xml:"urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/ container"`
}

// Object is a single item in DIDL-Lite metadata.
type Object struct {
	ID      string `xml:"id,attr"`
	Title   string `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creator string `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Album   string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ album"`
	Class   string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ class"`
	Res     []Res  `xml:"res"`
}

// Container is a DIDL-Lite container entry.
type Container struct {
	ID    string `xml:"id,attr"`
	Title string `xml:"http://purl.org/dc/elements/1.1/ title"`
	Class string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ class"`
}

// Res is a resource element.
type Res struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Duration     string `xml:"duration,attr"`
	URI          string `xml:",chardata"`
}

// Build renders the metadata for a single playlist item played from uri.
func Build(item core.PlaylistItem, uri string) string {
	class := item.UPnPClass
	if class == "" {
		class = ClassFor(item.MimeType, uri)
	}
	mime := item.MimeType
	if mime == "" {
		mime = "*"
	}

	var buf bytes.Buffer
	buf.WriteString(`<DIDL-Lite xmlns="` + nsDIDL + `" xmlns:dc="` + nsDC + `" xmlns:upnp="` + nsUPnP + `">`)
	buf.WriteString(`<item id="0" parentID="-1" restricted="1">`)
	fmt.Fprintf(&buf, "<dc:title>%s</dc:title>", escape(item.DisplayTitle()))
	fmt.Fprintf(&buf, "<upnp:class>%s</upnp:class>", escape(class))
	buf.WriteString(`<res protocolInfo="http-get:*:` + escape(mime) + `:*"`)
	if item.Duration > 0 {
		buf.WriteString(` duration="` + FormatDuration(item.Duration) + `"`)
	}
	fmt.Fprintf(&buf, ">%s</res>", escape(uri))
	buf.WriteString(`</item></DIDL-Lite>`)
	return buf.String()
}

// Parse reads the first item of a metadata document. Documents that
// arrive HTML-escaped inside event payloads are unescaped first. A nil
// item and nil error are returned for empty metadata.
func Parse(metadata string) (*core.PlaylistItem, error) {
	metadata = strings.TrimSpace(metadata)
	if metadata == "" || metadata == "NOT_IMPLEMENTED" {
		return nil, nil
	}
	if strings.HasPrefix(metadata, "&lt;") {
		metadata = html.UnescapeString(metadata)
	}

	var doc Document
	if err := xml.Unmarshal([]byte(metadata), &doc); err == nil {
		if len(doc.Items) > 0 {
			return objectItem(doc.Items[0]), nil
		}
		if len(doc.Containers) > 0 {
			c := doc.Containers[0]
			item := core.NewContainer(c.ID, c.Title)
			item.UPnPClass = c.Class
			return &item, nil
		}
	}

	// Some renderers emit undeclared prefixes; fall back to a loose match.
	title := extractElement(metadata, "title")
	if title == "" {
		return nil, fmt.Errorf("didl: no item in metadata")
	}
	item := core.NewItem(extractElement(metadata, "res"), title)
	item.UPnPClass = extractElement(metadata, "class")
	return &item, nil
}

func objectItem(o Object) *core.PlaylistItem {
	item := core.PlaylistItem{
		Title:     o.Title,
		Class:     core.ClassItem,
		UPnPClass: o.Class,
	}
	if strings.HasPrefix(o.Class, ClassContainer) {
		item.Class = core.ClassContainer
	}
	if len(o.Res) > 0 {
		r := o.Res[0]
		item.URI = strings.TrimSpace(r.URI)
		item.Duration, _ = ParseDuration(r.Duration)
		if parts := strings.Split(r.ProtocolInfo, ":"); len(parts) == 4 && parts[2] != "*" {
			item.MimeType = parts[2]
		}
	}
	return &item
}

// ClassFor guesses an object class from a MIME type or file extension.
func ClassFor(mime, uri string) string {
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return ClassAudioItem
	case strings.HasPrefix(mime, "video/"):
		return ClassVideoItem
	case strings.HasPrefix(mime, "image/"):
		return ClassImageItem
	}

	lower := strings.ToLower(uri)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range []string{".mp3", ".flac", ".m4a", ".aac", ".ogg", ".wav", ".opus"} {
		if strings.HasSuffix(lower, ext) {
			return ClassAudioItem
		}
	}
	for _, ext := range []string{".mp4", ".mkv", ".avi", ".mov", ".webm", ".ts"} {
		if strings.HasSuffix(lower, ext) {
			return ClassVideoItem
		}
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif"} {
		if strings.HasSuffix(lower, ext) {
			return ClassImageItem
		}
	}
	return ClassItem
}

// FormatDuration renders d as H:MM:SS.
func FormatDuration(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// ParseDuration parses H+:MM:SS[.F+] durations as used by UPnP AV.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "NOT_IMPLEMENTED" {
		return 0, fmt.Errorf("didl: empty duration")
	}
	var h, m int
	var sec float64
	if _, err := fmt.Sscanf(s, "%d:%d:%f", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("didl: bad duration %q: %w", s, err)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second)), nil
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// extractElement extracts content from an XML element, ignoring namespace prefixes.
func extractElement(doc, localName string) string {
	re := regexp.MustCompile(`<(?:\w+:)?` + localName + `[^>]*>([^<]*)</(?:\w+:)?` + localName + `>`)
	if m := re.FindStringSubmatch(doc); len(m) > 1 {
		return strings.TrimSpace(html.UnescapeString(m[1]))
	}
	return ""
}
