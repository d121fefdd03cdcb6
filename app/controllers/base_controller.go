package controllers

import (
	"net/http"

	"github.com/beego/beego/v2/server/web"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/aihub/rag-engine/internal/errors"
)

var validate = validator.New()

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// JSONAppError 按错误类型映射HTTP状态码后写出错误响应
func (c *BaseController) JSONAppError(err error) {
	appErr := apperrors.GetAppError(err)
	c.JSONError(appErr.HTTPCode, appErr.Message)
}

// mustValidate 校验请求DTO，失败时写出400响应
func (c *BaseController) mustValidate(req interface{}) bool {
	if err := validate.Struct(req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}
