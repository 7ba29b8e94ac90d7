// SPDX-License-Identifier: MIT

package ssdp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const aliveMsg = "NOTIFY * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"CACHE-CONTROL: max-age=1800\r\n" +
	"LOCATION: http://192.0.2.10:49152/desc.xml\r\n" +
	"NT: urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
	"NTS: ssdp:alive\r\n" +
	"SERVER: Linux UPnP/1.0 Sonos/70.3\r\n" +
	"USN: uuid:RINCON-123::urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
	"\r\n"

const byebyeMsg = "NOTIFY * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"NT: urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
	"NTS: ssdp:byebye\r\n" +
	"USN: uuid:RINCON-123::urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
	"\r\n"

const searchResponseMsg = "HTTP/1.1 200 OK\r\n" +
	"CACHE-CONTROL: max-age=120\r\n" +
	"LOCATION: http://192.0.2.11:49152/desc.xml\r\n" +
	"ST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
	"USN: uuid:dev-2::urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
	"\r\n"

func TestHandleMessage_Alive(t *testing.T) {
	var got []Sighting
	d := &Discoverer{OnAlive: func(s Sighting) { got = append(got, s) }}

	d.handleMessage(aliveMsg)
	assert.Len(t, got, 1)
	assert.Equal(t, "RINCON-123", got[0].UDN)
	assert.Equal(t, "urn:schemas-upnp-org:device:MediaRenderer:1", got[0].NT)
	assert.Equal(t, "http://192.0.2.10:49152/desc.xml", got[0].Location)
	assert.Equal(t, 1800*time.Second, got[0].MaxAge)
}

func TestHandleMessage_ByeBye(t *testing.T) {
	var alive, gone []Sighting
	d := &Discoverer{
		OnAlive:  func(s Sighting) { alive = append(alive, s) },
		OnByeBye: func(s Sighting) { gone = append(gone, s) },
	}

	d.handleMessage(byebyeMsg)
	assert.Empty(t, alive)
	assert.Len(t, gone, 1)
	assert.Equal(t, "RINCON-123", gone[0].UDN)
}

func TestHandleMessage_SearchResponse(t *testing.T) {
	var got []Sighting
	d := &Discoverer{OnAlive: func(s Sighting) { got = append(got, s) }}

	d.handleMessage(searchResponseMsg)
	assert.Len(t, got, 1)
	assert.Equal(t, "dev-2", got[0].UDN)
	assert.Equal(t, 120*time.Second, got[0].MaxAge)
}

func TestHandleMessage_IgnoresMSearchAndGarbage(t *testing.T) {
	called := false
	d := &Discoverer{
		OnAlive:  func(Sighting) { called = true },
		OnByeBye: func(Sighting) { called = true },
	}
	d.handleMessage("M-SEARCH * HTTP/1.1\r\nST: ssdp:all\r\n\r\n")
	d.handleMessage("not even ssdp")
	assert.False(t, called)
}

func TestUDNFromUSN(t *testing.T) {
	assert.Equal(t, "abc", udnFromUSN("uuid:abc::upnp:rootdevice"))
	assert.Equal(t, "abc", udnFromUSN("uuid:abc"))
	assert.Equal(t, "", udnFromUSN(""))
}

func TestMaxAgeFrom(t *testing.T) {
	assert.Equal(t, 90*time.Second, maxAgeFrom("no-cache, max-age=90"))
	assert.Equal(t, defaultMaxAge, maxAgeFrom(""))
	assert.Equal(t, defaultMaxAge, maxAgeFrom("max-age=bogus"))
}
