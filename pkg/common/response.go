package common

import "github.com/gin-gonic/gin"

// ErrorBody is the JSON shape of every error reply
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SuccessResponse writes a 200 reply wrapping data
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(200, gin.H{
		"success": true,
		"data":    data,
	})
}

// ErrorResponse writes an error reply with the given status
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorBody{Success: false, Error: message})
}
