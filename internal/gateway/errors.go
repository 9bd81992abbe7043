package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/Guizzs26/go-social-mesh/internal/rpc"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, envelope{Error: &errorBody{Code: code, Message: message}})
}

// failFrom maps an RPC outcome onto an HTTP status. Transport failures and
// timeouts are never reported as the remote handler's fault
func failFrom(c *gin.Context, err error) {
	var he *rpc.HandlerError
	var te *rpc.TransportError

	switch {
	case errors.As(err, &he):
		fail(c, statusForCode(he.Code), he.Code, he.Message)
	case errors.Is(err, rpc.ErrTimeout):
		fail(c, http.StatusGatewayTimeout, "TIMEOUT", "upstream service did not answer in time")
	case errors.As(err, &te):
		fail(c, http.StatusServiceUnavailable, "UNAVAILABLE", "upstream service unreachable")
	case errors.Is(err, context.Canceled):
		fail(c, http.StatusServiceUnavailable, "CANCELED", "request canceled")
	default:
		fail(c, http.StatusInternalServerError, rpc.CodeInternal, err.Error())
	}
}

func statusForCode(code string) int {
	switch code {
	case rpc.CodeBadRequest:
		return http.StatusBadRequest
	case rpc.CodeNotFound:
		return http.StatusNotFound
	case rpc.CodeConflict:
		return http.StatusConflict
	case rpc.CodeUnauthorized:
		return http.StatusUnauthorized
	case rpc.CodeUnknownCommand:
		return http.StatusNotImplemented
	case rpc.CodeMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
