// Package docs 注册 /swagger 使用的接口文档，随 handler 注解由 swag init 维护
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/orders/eligible": {
            "get": {"tags": ["Payment"], "summary": "可抢订单列表", "security": [{"BearerAuth": []}],
                "parameters": [
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}}
        },
        "/orders/{id}/payment": {
            "get": {"tags": ["Payment"], "summary": "订单支付状态", "security": [{"BearerAuth": []}],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "order not found"}}}
        },
        "/orders/{id}/authorization": {
            "post": {"tags": ["Payment"], "summary": "创建预授权", "security": [{"BearerAuth": []}],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.CreateAuthorizationInput"}}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "invalid amount"}, "409": {"description": "order not eligible"}}}
        },
        "/orders/{id}/assign": {
            "post": {"tags": ["Payment"], "summary": "抢单并扣款", "security": [{"BearerAuth": []}],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "assigned"}, "409": {"description": "already assigned or unavailable"}, "502": {"description": "capture failed, order released"}}}
        },
        "/orders/{id}/cancel": {
            "post": {"tags": ["Payment"], "summary": "取消订单", "security": [{"BearerAuth": []}],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.CancelOrderInput"}}
                ],
                "responses": {"200": {"description": "OK"}, "409": {"description": "order not eligible"}}}
        },
        "/admin/payments/expiry-sweep": {
            "post": {"tags": ["Admin"], "summary": "手动触发过期清理", "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK"}}}
        },
        "/admin/payments/stale-claims": {
            "post": {"tags": ["Admin"], "summary": "收尾悬挂抢占", "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK"}}}
        }
    },
    "definitions": {
        "handler.CreateAuthorizationInput": {
            "type": "object",
            "required": ["amount"],
            "properties": {"amount": {"type": "string", "example": "12.50"}, "validityDays": {"type": "integer", "maximum": 30, "minimum": 1}}
        },
        "handler.CancelOrderInput": {
            "type": "object",
            "required": ["reason"],
            "properties": {"reason": {"type": "string", "maxLength": 255}}
        }
    }
}`

// SwaggerInfo 接口文档元信息
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Fourmiz Payment API",
	Description:      "预授权、抢单扣款与过期清理",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
