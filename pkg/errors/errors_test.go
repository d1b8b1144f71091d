package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAppErrorUnwrapsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := fmt.Errorf("send: %w", NewTransportError(cause, "fallback request failed"))

	assert.True(t, HasCode(err, CodeTransportFailure))
	assert.True(t, Is(err, NewError(0, CodeTransportFailure, "")))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, GetStatusCode(err))
	assert.Equal(t, "fallback request failed", GetErrorMessage(err))
	assert.True(t, FromError(err).Recoverable())
}

func TestFromErrorWrapsPlainErrors(t *testing.T) {
	appErr := FromError(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
	assert.Nil(t, FromError(nil))
	assert.Equal(t, "UNKNOWN_ERROR", GetErrorCode(stderrors.New("x")))
}

func TestFromResponseDefaults(t *testing.T) {
	var body ErrorBody
	appErr := FromResponse(http.StatusServiceUnavailable, body)
	assert.Equal(t, CodeTransportFailure, appErr.Code)
	assert.Contains(t, appErr.Message, "503")

	body.Error.Code = CodeInvalidRequest
	body.Error.Message = "message is required"
	appErr = FromResponse(http.StatusBadRequest, body)
	assert.Equal(t, CodeInvalidRequest, appErr.Code)
	assert.False(t, appErr.Recoverable())
}

func TestErrorHandlerWritesJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(NewBadRequestError(CodeEmptyMessage, "message is empty"))
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/fail", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), CodeEmptyMessage)
}
