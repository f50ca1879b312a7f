package lifecycle

import (
	"net/http"
	"testing"
)

func TestParseRange(t *testing.T) {
	cases := []struct {
		header string
		ok     bool
		want   ByteRange
	}{
		{"bytes=10-19", true, ByteRange{Start: 10, End: 19, HasStart: true, HasEnd: true}},
		{"bytes=5-", true, ByteRange{Start: 5, HasStart: true}},
		{"bytes=-20", true, ByteRange{End: 20, HasEnd: true}},
		{"bytes=-", true, ByteRange{}},
		{"bytes=0-1,4-5", true, ByteRange{Start: 0, End: 1, HasStart: true, HasEnd: true}},
		{"bytes=abc", false, ByteRange{}},
		{"items=0-1", false, ByteRange{}},
		{"bytes=99999999999999999999-", false, ByteRange{}},
	}
	for _, tc := range cases {
		got, ok := ParseRange(tc.header)
		if ok != tc.ok {
			t.Fatalf("ParseRange(%q) ok = %v, want %v", tc.header, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Fatalf("ParseRange(%q) = %+v, want %+v", tc.header, got, tc.want)
		}
	}
}

func TestSynthesizePartialMissingStartDefaultsToZero(t *testing.T) {
	body := []byte("0123456789")
	r, _ := ParseRange("bytes=-3")
	resp := SynthesizePartial(body, "", r)
	if string(resp.Body) != "0123" {
		t.Fatalf("body = %q", resp.Body)
	}
	if resp.Header.Get("Content-Range") != "bytes 0-3/10" {
		t.Fatalf("Content-Range = %q", resp.Header.Get("Content-Range"))
	}
	if resp.Header.Get("Content-Type") != DefaultPartialContentType {
		t.Fatalf("default content type should be %s", DefaultPartialContentType)
	}
}

func TestSynthesizePartialClampsEnd(t *testing.T) {
	body := []byte("0123456789")
	r, _ := ParseRange("bytes=7-500")
	resp := SynthesizePartial(body, "video/mp4", r)
	if resp.Status != http.StatusPartialContent || string(resp.Body) != "789" {
		t.Fatalf("unexpected clamp result: %d %q", resp.Status, resp.Body)
	}
	if resp.Header.Get("Content-Range") != "bytes 7-9/10" || resp.Header.Get("Content-Length") != "3" {
		t.Fatalf("headers mismatch: %v", resp.Header)
	}
}

func TestSynthesizePartialStartBeyondTotalIsEmpty(t *testing.T) {
	body := []byte("0123456789")
	for _, header := range []string{"bytes=20-", "bytes=20-30", "bytes=8-3"} {
		r, ok := ParseRange(header)
		if !ok {
			t.Fatalf("%s should parse", header)
		}
		resp := SynthesizePartial(body, "audio/mpeg", r)
		if resp.Status != http.StatusPartialContent {
			t.Fatalf("%s: status = %d", header, resp.Status)
		}
		if len(resp.Body) != 0 || resp.Header.Get("Content-Length") != "0" {
			t.Fatalf("%s: expected empty body, got %q", header, resp.Body)
		}
		if resp.Header.Get("Content-Range") != "bytes */10" {
			t.Fatalf("%s: Content-Range = %q", header, resp.Header.Get("Content-Range"))
		}
	}
}

func TestSynthesizePartialEmptyResource(t *testing.T) {
	r, _ := ParseRange("bytes=0-")
	resp := SynthesizePartial(nil, "audio/mpeg", r)
	if len(resp.Body) != 0 || resp.Header.Get("Content-Range") != "bytes */0" {
		t.Fatalf("empty resource should yield empty 206, got %q %q", resp.Body, resp.Header.Get("Content-Range"))
	}
}
