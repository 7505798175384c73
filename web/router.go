package web

import (
	"fmt"
	"log"
	"strings"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/domain"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Router serves the public HTTP surface: the machine-readable actor,
// webfinger and note documents peers fetch, the inbox endpoints feeding
// the federation engine, and the RSS feed.
func Router(engine *activitypub.Engine) error {
	conf := engine.Conf()
	log.Printf("Starting HTTP server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)

	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		username := c.Query("username")
		rss, err := GetRSS(engine, username)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	g.GET("/feed/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		feedId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}

		rssItem, err := GetRSSItem(engine, feedId)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rssItem})
		}
	})

	if conf.Conf.WithAp {
		// Stricter rate limit for federation endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		g.GET("/notes/:id", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")

			noteId, err := uuid.Parse(c.Param("id"))
			if err != nil {
				c.JSON(404, gin.H{"error": "Invalid note ID"})
				return
			}

			err, note := GetNoteObject(engine, noteId)
			if err != nil {
				c.JSON(404, gin.H{"error": "Note not found"})
			} else {
				c.Render(200, render.String{Format: note})
			}
		})

		g.GET("/users/:actor", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := GetActor(engine, c.Param("actor"))
			if err != nil {
				c.Render(404, render.String{Format: actor})
			} else {
				c.Render(200, render.String{Format: actor})
			}
		})

		// Shared inbox: admission captures the request as-is, the
		// queue worker resolves the concrete local target later.
		g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			log.Println("POST /inbox (shared inbox)")
			engine.HandleInbox(c.Writer, c.Request, domain.SharedInbox)
		})

		g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			actor := c.Param("actor")
			log.Printf("POST /users/%s/inbox", actor)
			engine.HandleInbox(c.Writer, c.Request, actor)
		})

		g.GET("/users/:actor/outbox", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			page := ParsePageParam(c.Query("page"))
			err, outbox := GetOutbox(engine, c.Param("actor"), page)
			if err != nil {
				c.Render(404, render.String{Format: outbox})
			} else {
				c.Render(200, render.String{Format: outbox})
			}
		})

		g.GET("/users/:actor/followers", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			c.Render(200, render.String{Format: "{}"})
		})

		g.GET("/users/:actor/following", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			c.Render(200, render.String{Format: "{}"})
		})

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")

			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
				return
			}
			resource = strings.TrimPrefix(resource, "acct:")
			resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.SslDomain))
			err, resp := GetWebfinger(engine, resource)
			if err != nil {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
			} else {
				c.Render(200, render.String{Format: resp})
			}
		})
	}

	return g.Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
}
