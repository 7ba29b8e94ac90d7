// SPDX-License-Identifier: MIT

package soap

import (
	"strings"
	"testing"
)

const sampleRequest = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body>
<u:Browse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
<ObjectID>0</ObjectID>
<BrowseFlag>BrowseDirectChildren</BrowseFlag>
<Filter>*</Filter>
<StartingIndex>0</StartingIndex>
<RequestedCount>0</RequestedCount>
<SortCriteria></SortCriteria>
</u:Browse>
</s:Body>
</s:Envelope>`

func TestParseAction(t *testing.T) {
	action, err := ParseAction([]byte(sampleRequest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if action.Name != "Browse" {
		t.Fatalf("action name = %q, want Browse", action.Name)
	}
	if action.ServiceType != "urn:schemas-upnp-org:service:ContentDirectory:1" {
		t.Fatalf("service type = %q", action.ServiceType)
	}

	objectID, ok := action.Get("ObjectID")
	if !ok || objectID != "0" {
		t.Fatalf("ObjectID = %q, ok=%v", objectID, ok)
	}
	flag, ok := action.Get("BrowseFlag")
	if !ok || flag != "BrowseDirectChildren" {
		t.Fatalf("BrowseFlag = %q, ok=%v", flag, ok)
	}
}

func TestParseActionMalformed(t *testing.T) {
	if _, err := ParseAction([]byte("not xml at all")); err == nil {
		t.Fatalf("expected malformed envelope error")
	}
}

func TestBuildResponse(t *testing.T) {
	out := BuildResponse("urn:schemas-upnp-org:service:ContentDirectory:1", "Browse", []Arg{
		{Name: "Result", Value: "<DIDL-Lite/>"},
		{Name: "NumberReturned", Value: "0"},
	})
	s := string(out)
	if !strings.Contains(s, "BrowseResponse") {
		t.Fatalf("response missing BrowseResponse element:\n%s", s)
	}
	if !strings.Contains(s, "&lt;DIDL-Lite/&gt;") {
		t.Fatalf("response value not escaped:\n%s", s)
	}
}

func TestBuildFault(t *testing.T) {
	out := BuildFault(&Fault{ErrorCode: ErrCodeInvalidArgs, ErrorDescription: "Invalid Args"})
	s := string(out)
	if !strings.Contains(s, "<errorCode>402</errorCode>") {
		t.Fatalf("fault missing error code:\n%s", s)
	}
	if !strings.Contains(s, "s:Fault") {
		t.Fatalf("fault missing s:Fault element:\n%s", s)
	}
}
