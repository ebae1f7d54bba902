package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ginLogger logs one line per request. Requests that ended with errors are
// logged at error level with the private gin errors attached.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// handlers may rewrite the path
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		code := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}

		entry := logger.WithFields(logrus.Fields{
			"code":    code,
			"latency": latency.Round(time.Millisecond).String(),
			"method":  c.Request.Method,
			"route":   c.FullPath(),
			"size":    size,
		})

		if len(c.Errors) > 0 {
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}

		msg := fmt.Sprintf("%s %s %d", c.Request.Method, path, code)
		switch {
		case code >= http.StatusInternalServerError:
			entry.Error(msg)
		case code >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}
