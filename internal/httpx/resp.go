package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Response represents the standard API response structure
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Log receives the internal errors of failed requests
var Log = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "api")

// OK sends a successful response with default message "success"
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Message: "success", Data: data})
}

// OKMsg sends a successful response with custom message
func OKMsg(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Message: message, Data: data})
}

// FailErr sends an error response from an AppError.
// AppError.Err is logged but not returned to the client.
func FailErr(c *gin.Context, err *AppError) {
	if err.Err != nil {
		Log.WithFields(logrus.Fields{
			"code": err.Code,
			"path": c.FullPath(),
		}).WithError(err.Err).Error("[API] " + err.Message)
	}
	c.JSON(err.HTTPStatus, Response{Code: err.Code, Message: err.Message, Data: err.Data})
}

// ListData represents the standard list response data structure
type ListData struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

// OKItems sends a successful list response
func OKItems(c *gin.Context, items any, total int) {
	OK(c, ListData{Items: items, Total: total})
}
