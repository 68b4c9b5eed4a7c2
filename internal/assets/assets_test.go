package assets

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/lawsker/lawsker/internal/config"
)

func TestGetDemoJS(t *testing.T) {
	data, err := GetDemoJS()
	if err != nil {
		t.Fatalf("GetDemoJS failed: %v", err)
	}
	if !strings.Contains(string(data), "/ws/demo") {
		t.Error("demo client should connect to /ws/demo")
	}
}

func TestGetCSS(t *testing.T) {
	data, err := GetCSS()
	if err != nil {
		t.Fatalf("GetCSS failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("GetCSS returned empty data")
	}
}

func TestDefaultRoutesHavePages(t *testing.T) {
	site := SiteFS()
	for _, r := range config.DefaultRoutes() {
		t.Run(r.Path, func(t *testing.T) {
			data, err := fs.ReadFile(site, r.File)
			if err != nil {
				t.Fatalf("route %s: %v", r.Path, err)
			}
			if !strings.Contains(string(data), "<!DOCTYPE html>") {
				t.Errorf("%s is not an HTML document", r.File)
			}
		})
	}
}

func TestLegacyAdminPageNotEmbedded(t *testing.T) {
	if _, err := fs.Stat(SiteFS(), "admin-config-legacy.html"); err == nil {
		t.Error("legacy admin page must not ship with the site")
	}
}

func TestPages(t *testing.T) {
	pages, err := Pages(SiteFS())
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	if len(pages) != len(config.DefaultRoutes()) {
		t.Errorf("expected %d pages, got %d: %v", len(config.DefaultRoutes()), len(pages), pages)
	}
	for _, p := range pages {
		if !strings.HasSuffix(p, ".html") {
			t.Errorf("unexpected root file %q", p)
		}
	}
}

func TestDemoPageLoadsClient(t *testing.T) {
	data, err := fs.ReadFile(SiteFS(), "business-flow-demo.html")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`id="demo"`, `/static/demo.js`, `data-action="start"`, `class="completion`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("demo page missing %q", want)
		}
	}
}

func TestPagesOfDirectory(t *testing.T) {
	site := fstest.MapFS{
		"index.html":       {Data: []byte("home")},
		"about.html":       {Data: []byte("about")},
		"notes.txt":        {Data: []byte("x")},
		"static/demo.js":   {Data: []byte("js")},
		"pages/inner.html": {Data: []byte("inner")},
	}
	pages, err := Pages(site)
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	if strings.Join(pages, ",") != "about.html,index.html" {
		t.Errorf("unexpected pages %v", pages)
	}
}
