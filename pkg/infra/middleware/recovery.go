package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	ctxlog "github.com/kart-io/sentinel-rag/pkg/infra/logger"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
)

// Recovery returns a middleware that recovers from panics.
// It converts panics to JSON error responses using the error code system.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				ctxlog.GetLogger(c.Request.Context()).Errorw("Panic recovered",
					"path", c.Request.URL.Path,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)
				resp := response.Err(errors.ErrInternal.WithMessage(fmt.Sprintf("panic: %v", r)))
				c.AbortWithStatusJSON(resp.HTTPStatus(), resp)
			}
		}()
		c.Next()
	}
}
