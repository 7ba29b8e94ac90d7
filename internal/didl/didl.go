// SPDX-License-Identifier: MIT

// Package didl implements DIDL-Lite encoding: the XML vocabulary
// ContentDirectory Browse results and AVTransport CurrentURIMetaData
// are expressed in.
package didl

import (
	"encoding/xml"
	"strings"
)

// Res is a single resource (a playable/downloadable rendition).
type Res struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Size         int64  `xml:"size,attr,omitempty"`
	Duration     string `xml:"duration,attr,omitempty"`
	URI          string `xml:",chardata"`
}

// Object is the common shape of a container or item. Exactly one of
// IsContainer's two XML-shaped renderings is used by MarshalObjects.
type Object struct {
	ID          string
	ParentID    string
	Title       string
	Class       string // e.g. "object.container", "object.item.audioItem.musicTrack"
	Restricted  bool
	Searchable  bool
	ChildCount  *int
	Artist      string
	Album       string
	AlbumArtURI string
	Resources   []Res
	IsContainer bool
}

type didlLite struct {
	XMLName   xml.Name `xml:"DIDL-Lite"`
	XmlnsDC   string   `xml:"xmlns:dc,attr"`
	XmlnsUPnP string   `xml:"xmlns:upnp,attr"`
	Xmlns     string   `xml:"xmlns,attr"`
	Items     []xmlItem      `xml:"item"`
	Containers []xmlContainer `xml:"container"`
}

type xmlRes struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Size         int64  `xml:"size,attr,omitempty"`
	Duration     string `xml:"duration,attr,omitempty"`
	URI          string `xml:",chardata"`
}

type xmlItem struct {
	XMLName    xml.Name `xml:"item"`
	ID         string   `xml:"id,attr"`
	ParentID   string   `xml:"parentID,attr"`
	Restricted string   `xml:"restricted,attr"`
	Title      string   `xml:"dc:title"`
	Class      string   `xml:"upnp:class"`
	Artist     string   `xml:"upnp:artist,omitempty"`
	Album      string   `xml:"upnp:album,omitempty"`
	AlbumArt   string   `xml:"upnp:albumArtURI,omitempty"`
	Res        []xmlRes `xml:"res"`

	// Decode-side twins of the prefixed fields: encoding/xml matches
	// inbound elements by namespace URI and local name, so the literal
	// "dc:"/"upnp:" tags above only work for encoding.
	TitleIn    string `xml:"http://purl.org/dc/elements/1.1/ title,omitempty"`
	ClassIn    string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ class,omitempty"`
	ArtistIn   string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ artist,omitempty"`
	AlbumIn    string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ album,omitempty"`
	AlbumArtIn string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ albumArtURI,omitempty"`
}

type xmlContainer struct {
	XMLName    xml.Name `xml:"container"`
	ID         string   `xml:"id,attr"`
	ParentID   string   `xml:"parentID,attr"`
	Restricted string   `xml:"restricted,attr"`
	Searchable string   `xml:"searchable,attr"`
	ChildCount *int     `xml:"childCount,attr"`
	Title      string   `xml:"dc:title"`
	Class      string   `xml:"upnp:class"`

	TitleIn string `xml:"http://purl.org/dc/elements/1.1/ title,omitempty"`
	ClassIn string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ class,omitempty"`
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// MarshalObjects composes a <DIDL-Lite> document wrapping the given
// objects, preserving input order.
func MarshalObjects(objs []Object) ([]byte, error) {
	doc := didlLite{
		XmlnsDC:   "http://purl.org/dc/elements/1.1/",
		XmlnsUPnP: "urn:schemas-upnp-org:metadata-1-0/upnp/",
		Xmlns:     "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/",
	}
	for _, o := range objs {
		if o.IsContainer {
			doc.Containers = append(doc.Containers, xmlContainer{
				ID:         o.ID,
				ParentID:   o.ParentID,
				Restricted: boolAttr(o.Restricted),
				Searchable: boolAttr(o.Searchable),
				ChildCount: o.ChildCount,
				Title:      o.Title,
				Class:      classOrDefault(o.Class, "object.container"),
			})
			continue
		}
		var res []xmlRes
		for _, r := range o.Resources {
			res = append(res, xmlRes{ProtocolInfo: r.ProtocolInfo, Size: r.Size, Duration: r.Duration, URI: r.URI})
		}
		doc.Items = append(doc.Items, xmlItem{
			ID:         o.ID,
			ParentID:   o.ParentID,
			Restricted: boolAttr(o.Restricted),
			Title:      o.Title,
			Class:      classOrDefault(o.Class, "object.item.audioItem.musicTrack"),
			Artist:     o.Artist,
			Album:      o.Album,
			AlbumArt:   o.AlbumArtURI,
			Res:        res,
		})
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func classOrDefault(class, def string) string {
	if strings.TrimSpace(class) == "" {
		return def
	}
	return class
}

// UnmarshalObjects parses a <DIDL-Lite> document back into Objects,
// preserving wire order within each element kind. All containers are
// returned before all items, whatever their order in the document
// (MarshalObjects itself writes items before containers).
func UnmarshalObjects(data []byte) ([]Object, error) {
	var doc didlLite
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	objs := make([]Object, 0, len(doc.Containers)+len(doc.Items))
	for _, c := range doc.Containers {
		var childCount *int
		if c.ChildCount != nil {
			n := *c.ChildCount
			childCount = &n
		}
		objs = append(objs, Object{
			ID:          c.ID,
			ParentID:    c.ParentID,
			Title:       c.TitleIn,
			Class:       c.ClassIn,
			Restricted:  boolFromAttr(c.Restricted),
			Searchable:  boolFromAttr(c.Searchable),
			ChildCount:  childCount,
			IsContainer: true,
		})
	}
	for _, it := range doc.Items {
		var res []Res
		for _, r := range it.Res {
			res = append(res, Res{ProtocolInfo: r.ProtocolInfo, Size: r.Size, Duration: r.Duration, URI: r.URI})
		}
		objs = append(objs, Object{
			ID:          it.ID,
			ParentID:    it.ParentID,
			Title:       it.TitleIn,
			Class:       it.ClassIn,
			Restricted:  boolFromAttr(it.Restricted),
			Artist:      it.ArtistIn,
			Album:       it.AlbumIn,
			AlbumArtURI: it.AlbumArtIn,
			Resources:   res,
			IsContainer: false,
		})
	}
	return objs, nil
}

func boolFromAttr(s string) bool {
	return s == "1" || strings.EqualFold(s, "true")
}
