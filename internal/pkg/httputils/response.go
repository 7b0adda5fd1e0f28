// Package httputils provides HTTP utility functions.
package httputils

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
)

// WriteResponse writes the response to the client.
// A non-nil err is converted to an Errno; data may be a prepared
// *response.Response or a raw payload.
func WriteResponse(c *gin.Context, err error, data interface{}) {
	if err != nil {
		resp := response.Err(errors.FromError(err))
		c.JSON(resp.HTTPStatus(), resp)
		return
	}

	if resp, ok := data.(*response.Response); ok {
		c.JSON(resp.HTTPStatus(), resp)
		return
	}

	resp := response.Success(data)
	c.JSON(resp.HTTPStatus(), resp)
}
