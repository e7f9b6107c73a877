package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// LoopbackOnly rejects any request that did not originate on localhost.
// The listener already binds 127.0.0.1, so this is a second gate against
// misconfiguration rather than the primary control.
func LoopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "local clients only",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
