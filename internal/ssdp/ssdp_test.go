// SPDX-License-Identifier: MIT

package ssdp

import (
	"strings"
	"testing"
	"time"
)

func TestParseHeader(t *testing.T) {
	msg := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n" +
		"ST: ssdp:all\r\n\r\n"

	if got := parseHeader(msg, "ST"); got != "ssdp:all" {
		t.Fatalf("ST = %q, want ssdp:all", got)
	}
	if got := parseHeader(msg, "st"); got != "ssdp:all" {
		t.Fatalf("case-insensitive header lookup failed: %q", got)
	}
	if got := parseHeader(msg, "MISSING"); got != "" {
		t.Fatalf("missing header should return empty string, got %q", got)
	}
}

func TestDeviceUSNFormat(t *testing.T) {
	d := Device{UDN: "abc-123", NotificationTypes: []string{"upnp:rootdevice"}}
	usn := d.usn("upnp:rootdevice")
	want := "uuid:abc-123::upnp:rootdevice"
	if usn != want {
		t.Fatalf("usn = %q, want %q", usn, want)
	}
}

func TestAddDeviceRegistersEveryNT(t *testing.T) {
	s := NewServer()
	// Runs AddDevice without a live socket: multicast() no-ops when conn
	// is nil, so this only verifies the announce path does not panic and
	// the device is registered with all its NTs.
	d := Device{
		UDN:               "test-udn",
		Location:           "http://127.0.0.1:8200/desc.xml",
		Server:             "pmomusicd/1.0 UPnP/1.1",
		NotificationTypes: []string{"upnp:rootdevice", "urn:schemas-upnp-org:device:MediaServer:1"},
		MaxAge:            1800 * time.Second,
	}
	s.AddDevice(d)

	got, ok := s.devices[d.UDN]
	if !ok {
		t.Fatalf("device not registered")
	}
	if len(got.NotificationTypes) != 2 {
		t.Fatalf("expected 2 notification types, got %d", len(got.NotificationTypes))
	}
}

func TestRemoveDeviceForgetsIt(t *testing.T) {
	s := NewServer()
	d := Device{UDN: "gone", NotificationTypes: []string{"upnp:rootdevice"}}
	s.AddDevice(d)
	s.RemoveDevice(d.UDN)

	if _, ok := s.devices[d.UDN]; ok {
		t.Fatalf("device should have been removed")
	}
}

func TestSearchResponseWireFormat(t *testing.T) {
	// Verify the response template carries the mandatory headers
	// (CACHE-CONTROL, LOCATION, NT->ST, SERVER, USN).
	d := Device{
		UDN:      "abc",
		Location: "http://host/desc.xml",
		Server:   "pmomusicd/1.0 UPnP/1.1",
		MaxAge:   1800 * time.Second,
	}
	msg := buildSearchResponse(d, "upnp:rootdevice")
	for _, header := range []string{"CACHE-CONTROL:", "LOCATION:", "ST:", "USN:", "SERVER:"} {
		if !strings.Contains(msg, header) {
			t.Fatalf("search response missing header %s:\n%s", header, msg)
		}
	}
	if !strings.HasSuffix(msg, "\r\n\r\n") {
		t.Fatalf("search response must end with a blank CRLF line")
	}
}
