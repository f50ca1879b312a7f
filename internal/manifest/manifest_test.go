package manifest

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadValidManifest(t *testing.T) {
	m, err := Load(filepath.Join("testdata", "valid.yaml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	names := m.Names()
	if len(names) != 2 || names[0] != "cache-biblioteca-v2" || names[1] != "cache-embe-audios-v1" {
		t.Fatalf("组顺序不符: %v", names)
	}
	if m.ResourceCount() != 4 {
		t.Fatalf("资源数量不符: %d", m.ResourceCount())
	}
	g, ok := m.Lookup("cache-embe-audios-v1")
	if !ok || g.Version != "1" {
		t.Fatalf("lookup 失败: %+v", g)
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "duplicate.yaml"))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("重复组名应报错, got %v", err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	doc := `
groups:
  - name: g1
    version: "1"
    files: [a.json]
`
	if _, err := Decode(strings.NewReader(doc)); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

func TestValidateRejectsBadResources(t *testing.T) {
	cases := map[string]string{
		"absolute url": "https://cdn.example.com/a.js",
		"rooted path":  "/a.js",
		"escape":       "../secret.json",
		"empty":        "  ",
	}
	for name, res := range cases {
		t.Run(name, func(t *testing.T) {
			m := &Manifest{Groups: []Group{{Name: "g1", Version: "1", Resources: []string{res}}}}
			if err := m.Validate(); err == nil {
				t.Fatalf("resource %q should be rejected", res)
			}
		})
	}
}

func TestValidateRejectsUnsafeGroupNames(t *testing.T) {
	for _, name := range []string{"a/b", "..", `a\b`, "with space"} {
		m := &Manifest{Groups: []Group{{Name: name, Version: "1", Resources: []string{"a.json"}}}}
		if err := m.Validate(); err == nil {
			t.Fatalf("group name %q should be rejected", name)
		}
	}
}

func TestValidateRequiresVersion(t *testing.T) {
	m := &Manifest{Groups: []Group{{Name: "g1", Resources: []string{"a.json"}}}}
	if err := m.Validate(); err == nil {
		t.Fatalf("缺少版本应报错")
	}
}

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"./":                    "/",
		"index.html":            "/index.html",
		"css/../css/ui.css":     "/css/ui.css",
		"a.json?foo=bar":        "/a.json",
		"historias/x/audio.mp3": "/historias/x/audio.mp3",
		"audios/mi%20tema.mp3":  "/audios/mi tema.mp3",
		"audios/100%25.mp3#t=3": "/audios/100%.mp3",
	}
	for in, want := range cases {
		if got := CanonicalPath(in); got != want {
			t.Fatalf("CanonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRequestPathDoesNotDecodeTwice(t *testing.T) {
	if got := RequestPath("audios/mi%20tema.mp3"); got != "/audios/mi%20tema.mp3" {
		t.Fatalf("decoded request paths must be kept literally, got %q", got)
	}
	if got := RequestPath("/css/../index.html"); got != "/index.html" {
		t.Fatalf("unexpected clean path %q", got)
	}
}

func TestFetchURLAppendsVersion(t *testing.T) {
	origin, _ := url.Parse("https://stories.example.com/app/")
	g := Group{Name: "g1", Version: "3"}

	u, err := FetchURL(origin, g, "datos/a.json")
	if err != nil {
		t.Fatalf("FetchURL error: %v", err)
	}
	if u.String() != "https://stories.example.com/app/datos/a.json?v=3" {
		t.Fatalf("unexpected fetch url: %s", u)
	}

	root, err := FetchURL(origin, g, "./")
	if err != nil {
		t.Fatalf("FetchURL error: %v", err)
	}
	if root.String() != "https://stories.example.com/app/?v=3" {
		t.Fatalf("unexpected root url: %s", root)
	}
}

func TestGroupListIsCopy(t *testing.T) {
	m := &Manifest{Groups: []Group{{Name: "g1", Version: "1", Resources: []string{"a.json"}}}}
	list := m.GroupList()
	list[0].Resources[0] = "mutated"
	if m.Groups[0].Resources[0] != "a.json" {
		t.Fatalf("GroupList 应返回副本")
	}
}
