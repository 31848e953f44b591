package web

import (
	"log"
	"net/http"
	"strings"

	"github.com/Toromino/kibou-sub000/activitypub"
	"github.com/Toromino/kibou-sub000/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"golang.org/x/time/rate"
)

const activityJSONContentType = "application/activity+json; charset=utf-8"

// maxActivitySize caps inbound activity bodies at 1 MiB.
const maxActivitySize = 1 << 20

// Router builds the HTTP routing tree. The caller owns the server.
func Router(conf *util.AppConfig) (*gin.Engine, error) {
	// Gin shares the application's log writer, journald included
	gin.DefaultWriter = util.GetLogWriter()
	gin.DefaultErrorWriter = util.GetLogWriter()
	gin.SetMode(gin.ReleaseMode)

	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter limit for the inbox endpoints: 5 req/sec per IP
	inboxLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxBodySize := MaxBytesMiddleware(maxActivitySize)

	// Actor documents, content-negotiated: ActivityPub clients get the
	// JSON document, browsers get the HTML profile.
	g.GET("/actors/:name", func(c *gin.Context) {
		name := c.Param("name")

		if wantsActivityJSON(c.GetHeader("Accept")) {
			c.Header("Content-Type", activityJSONContentType)
			err, actor := GetActor(name, conf)
			if err != nil {
				c.Render(http.StatusNotFound, render.String{Format: "{}"})
				return
			}
			c.Render(http.StatusOK, render.String{Format: actor})
			return
		}

		err, page := GetProfileHTML(name, conf)
		if err != nil {
			c.String(http.StatusNotFound, "Not found")
			return
		}
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, page)
	})

	g.POST("/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, func(c *gin.Context) {
		activitypub.HandleInbox(c.Writer, c.Request, conf)
	})

	g.POST("/actors/:name/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, func(c *gin.Context) {
		// Per-actor and shared inboxes converge on one handler; the
		// affected local actor is derived from the activity itself.
		activitypub.HandleInbox(c.Writer, c.Request, conf)
	})

	g.GET("/actors/:name/outbox", func(c *gin.Context) {
		c.Header("Content-Type", activityJSONContentType)
		page := ParsePageParam(c.Query("page"))
		err, outbox := GetOutbox(c.Param("name"), page, conf)
		if err != nil {
			c.Render(http.StatusNotFound, render.String{Format: "{}"})
			return
		}
		c.Render(http.StatusOK, render.String{Format: outbox})
	})

	g.GET("/actors/:name/followers", func(c *gin.Context) {
		c.Header("Content-Type", activityJSONContentType)
		err, actor := activitypub.DefaultDeps().Database.ReadLocalActorByUsername(c.Param("name"))
		if err != nil {
			c.Render(http.StatusNotFound, render.String{Format: "{}"})
			return
		}
		if page := ParsePageParam(c.Query("page")); page > 0 {
			c.Render(http.StatusOK, render.String{Format: GetFollowersPage(actor, page)})
			return
		}
		c.Render(http.StatusOK, render.String{Format: GetFollowersCollection(actor)})
	})

	g.GET("/actors/:name/following", func(c *gin.Context) {
		c.Header("Content-Type", activityJSONContentType)
		deps := activitypub.DefaultDeps()
		err, actor := deps.Database.ReadLocalActorByUsername(c.Param("name"))
		if err != nil {
			c.Render(http.StatusNotFound, render.String{Format: "{}"})
			return
		}
		err, followees := deps.Database.ReadFolloweesOf(actor.ActorURI)
		if err != nil {
			log.Printf("Router: Failed to read followees of %s: %v", actor.ActorURI, err)
			followees = []string{}
		}
		if page := ParsePageParam(c.Query("page")); page > 0 {
			c.Render(http.StatusOK, render.String{Format: GetFollowingPage(actor, followees, page)})
			return
		}
		c.Render(http.StatusOK, render.String{Format: GetFollowingCollection(actor, followees)})
	})

	g.GET("/activities/:id", func(c *gin.Context) {
		c.Header("Content-Type", activityJSONContentType)
		err, activity := GetActivityDocument(c.Param("id"), conf)
		if err != nil {
			c.Render(http.StatusNotFound, render.String{Format: "{}"})
			return
		}
		c.Render(http.StatusOK, render.String{Format: activity})
	})

	g.GET("/objects/:id", func(c *gin.Context) {
		c.Header("Content-Type", activityJSONContentType)
		err, object := GetObjectDocument(c.Param("id"), conf)
		if err != nil {
			c.Render(http.StatusNotFound, render.String{Format: "{}"})
			return
		}
		c.Render(http.StatusOK, render.String{Format: object})
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/jrd+json; charset=utf-8")
		resource := c.Query("resource")
		if !strings.HasPrefix(resource, "acct:") {
			c.Render(http.StatusNotFound, render.String{Format: GetWebFingerNotFound()})
			return
		}
		err, response := GetWebfinger(resource, conf)
		if err != nil {
			c.Render(http.StatusNotFound, render.String{Format: GetWebFingerNotFound()})
			return
		}
		c.Render(http.StatusOK, render.String{Format: response})
	})

	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		if !conf.NodeInfo.Enabled {
			c.Status(http.StatusNotFound)
			return
		}
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.Render(http.StatusOK, render.String{Format: GetWellKnownNodeInfo(conf)})
	})

	nodeInfo20 := func(c *gin.Context) {
		if !conf.NodeInfo.Enabled {
			c.Status(http.StatusNotFound)
			return
		}
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.Render(http.StatusOK, render.String{Format: GetNodeInfo20(conf)})
	}
	g.GET("/nodeinfo/2.0.json", nodeInfo20)
	g.GET("/nodeinfo/2.0", nodeInfo20)

	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := GetRSS(conf, c.Query("username"))
		if err != nil {
			c.Render(http.StatusNotFound, render.String{Format: ""})
			return
		}
		c.Render(http.StatusOK, render.String{Format: rss})
	})

	return g, nil
}

// wantsActivityJSON checks whether an Accept header asks for an
// ActivityPub document rather than HTML.
func wantsActivityJSON(accept string) bool {
	return strings.Contains(accept, "application/activity+json") ||
		strings.Contains(accept, "application/ld+json")
}
