// Package assets embeds the default Lawsker site: the HTML pages served by the
// route table and the demo client stylesheet and script.
package assets

import (
	"embed"
	"io/fs"
	"path"
)

//go:embed site
var siteFS embed.FS

// SiteFS returns the embedded site rooted at its top directory.
func SiteFS() fs.FS {
	sub, err := fs.Sub(siteFS, "site")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetDemoJS returns the business flow demo client script.
func GetDemoJS() ([]byte, error) {
	return siteFS.ReadFile("site/static/demo.js")
}

// GetCSS returns the shared site stylesheet.
func GetCSS() ([]byte, error) {
	return siteFS.ReadFile("site/static/lawsker.css")
}

// Pages lists the HTML pages at the root of site, which may be the embedded
// site or a site directory.
func Pages(site fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(site, ".")
	if err != nil {
		return nil, err
	}
	var pages []string
	for _, e := range entries {
		if !e.IsDir() && path.Ext(e.Name()) == ".html" {
			pages = append(pages, e.Name())
		}
	}
	return pages, nil
}
