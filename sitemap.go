package postchain

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

func (a *App) renderSitemap(c echo.Context, blogs []BlogView) error {
	urls := []sitemapURL{
		{Loc: BuildURL(a.Config.URL)},
	}
	for _, b := range blogs {
		blogURL := sitemapURL{Loc: b.Link}
		if len(b.Posts) > 0 {
			blogURL.LastMod = b.Posts[0].Created.Format(time.DateOnly)
		}
		urls = append(urls, blogURL)
		for _, p := range b.Posts {
			urls = append(urls, sitemapURL{
				Loc:     p.Link,
				LastMod: p.Created.Format(time.DateOnly),
			})
		}
	}
	sitemap := sitemapURLSet{
		XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  urls,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Write([]byte(xml.Header))
	return xml.NewEncoder(c.Response()).Encode(sitemap)
}
