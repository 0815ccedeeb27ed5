package postchain

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/postchain/markdown"
)

type rssXML struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Author      string `xml:"author,omitempty"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// maxFeedItems caps the number of posts in a blog feed.
const maxFeedItems = 50

func (a *App) renderRSS(c echo.Context, blog BlogView) error {
	posts := blog.Posts
	if len(posts) > maxFeedItems {
		posts = posts[:maxFeedItems]
	}
	items := make([]rssItem, 0, len(posts))
	for _, p := range posts {
		items = append(items, rssItem{
			Title:       p.Title,
			Link:        p.Link,
			Description: markdown.HTML(p.Content),
			Author:      p.Owner.String(),
			PubDate:     p.Created.Format(time.RFC1123Z),
			GUID:        p.Link,
		})
	}
	feed := rssXML{
		Version: "2.0",
		Channel: rssChannel{
			Title:       a.Config.Name + " · " + blog.Address.Short(),
			Link:        blog.Link,
			Description: a.Config.Description,
			Items:       items,
		},
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/rss+xml; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Write([]byte(xml.Header))
	return xml.NewEncoder(c.Response()).Encode(feed)
}
