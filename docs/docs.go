// Package docs registers the OpenAPI description served on /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}}
            }
        },
        "/auth/sign-up": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Register operator",
                "parameters": [{"description": "Credentials", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.authCredentials"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Identity"}},
                    "400": {"description": "Bad Request"},
                    "409": {"description": "Conflict"},
                    "500": {"description": "Internal Server Error"}
                }
            }
        },
        "/auth/sign-in": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Sign in",
                "parameters": [{"description": "Credentials", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.authCredentials"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/service.Session"}},
                    "400": {"description": "Bad Request"},
                    "401": {"description": "Unauthorized"},
                    "500": {"description": "Internal Server Error"}
                }
            }
        },
        "/api/v1/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Current operator",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Identity"}}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/v1/devices": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "List devices",
                "description": "Discovered devices sorted by name; unnamed devices sort as \"-\".",
                "responses": {"200": {"description": "count, devices"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/v1/devices/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "Get device",
                "parameters": [{"type": "string", "example": "tasmota1", "description": "Device id", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.DeviceRow"}}, "401": {"description": "Unauthorized"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/v1/suggest": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["console"],
                "summary": "Suggest completion",
                "parameters": [{"type": "string", "example": "tasmota1 po", "description": "Current input", "name": "text", "in": "query"}],
                "responses": {"200": {"description": "suggestion, found"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/v1/navigate": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["console"],
                "summary": "Cycle actions",
                "parameters": [
                    {"type": "string", "example": "tasmota1 power", "description": "Current input", "name": "text", "in": "query"},
                    {"enum": ["next", "prev"], "type": "string", "description": "Direction", "name": "dir", "in": "query"}
                ],
                "responses": {"200": {"description": "text"}, "400": {"description": "Bad Request"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/v1/commands": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["console"],
                "summary": "Submit command",
                "description": "exit, sub <topic>, unsub <topic>, show sub, or [cmnd] <device|name|topic> <action> [payload]",
                "parameters": [{"description": "Command line", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CommandRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/service.CommandResult"}},
                    "400": {"description": "Bad Request"},
                    "401": {"description": "Unauthorized"},
                    "404": {"description": "Not Found"},
                    "502": {"description": "Bad Gateway"}
                }
            }
        },
        "/api/v1/subscriptions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["console"],
                "summary": "List ad-hoc subscriptions",
                "responses": {"200": {"description": "subscriptions"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/v1/logs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["logs"],
                "summary": "List logs",
                "parameters": [
                    {"type": "string", "example": "2025-08-01", "name": "from", "in": "query"},
                    {"type": "string", "example": "2025-08-31", "name": "to", "in": "query"},
                    {"enum": ["DISCOVERED", "RENAMED", "METRIC", "TELEMETRY", "UNHANDLED", "COMMAND", "ERROR"], "type": "string", "name": "type", "in": "query"},
                    {"type": "integer", "example": 100, "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "count, events"}, "400": {"description": "Bad Request"}, "401": {"description": "Unauthorized"}, "500": {"description": "Internal Server Error"}}
            }
        },
        "/ws": {
            "get": {
                "tags": ["display"],
                "summary": "Display stream",
                "description": "Streams display events ({type, at, data}) and a periodic device table snapshot of type \"devices\".",
                "parameters": [
                    {"type": "string", "name": "interval", "in": "query"},
                    {"type": "integer", "name": "interval_ms", "in": "query"}
                ],
                "responses": {}
            }
        }
    },
    "definitions": {
        "handlers.authCredentials": {
            "type": "object",
            "required": ["password", "username"],
            "properties": {"password": {"type": "string"}, "username": {"type": "string"}}
        },
        "handlers.CommandRequest": {
            "type": "object",
            "required": ["command"],
            "properties": {"command": {"type": "string", "example": "tasmota1 power on"}}
        },
        "models.Identity": {
            "type": "object",
            "properties": {"id": {"type": "integer"}, "username": {"type": "string"}}
        },
        "service.Session": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "expires_at": {"type": "string"},
                "operator": {"$ref": "#/definitions/models.Identity"}
            }
        },
        "models.DeviceRow": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "metrics": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "service.CommandResult": {
            "type": "object",
            "properties": {
                "kind": {"type": "string"},
                "topic": {"type": "string"},
                "payload": {"type": "string"},
                "subscriptions": {"type": "array", "items": {"type": "string"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "powercal API",
	Description:      "Operator console for calibrating Tasmota power monitoring over MQTT.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
