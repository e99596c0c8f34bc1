// Package docs registers the OpenAPI document served by the Swagger UI.
// Regenerate with: swag init -g cmd/api/main.go
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
                "tags": ["health"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "tags": ["health"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/image": {
            "get": {
                "produces": ["application/octet-stream", "application/json"],
                "tags": ["image"],
                "summary": "Get the image for a document",
                "parameters": [
                    {"type": "string", "description": "Document ID", "name": "id", "in": "query", "required": true},
                    {"type": "string", "description": "Caller tag", "name": "tag", "in": "query"},
                    {"type": "boolean", "description": "Describe the lookup instead of streaming", "name": "debug", "in": "query"},
                    {"type": "boolean", "description": "Report mapping cache state", "name": "cache_info", "in": "query"},
                    {"type": "boolean", "description": "Force a mapping rebuild", "name": "reset_cache", "in": "query"},
                    {"type": "boolean", "description": "Redirect to a placeholder when missing", "name": "placeholder", "in": "query"},
                    {"type": "integer", "description": "Placeholder width", "name": "width", "in": "query"},
                    {"type": "integer", "description": "Placeholder height", "name": "height", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "302": {"description": "Found"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["stats"],
                "summary": "Request statistics",
                "parameters": [
                    {"type": "string", "description": "Restrict to one document ID", "name": "id", "in": "query"},
                    {"type": "string", "description": "Restrict to one tag", "name": "tag", "in": "query"},
                    {"type": "boolean", "description": "Include recent requests", "name": "detailed", "in": "query"},
                    {"type": "integer", "description": "Recent request window", "name": "limit", "in": "query"},
                    {"type": "boolean", "description": "Reset counter and log first", "name": "reset", "in": "query"},
                    {"type": "boolean", "description": "Include tracking file diagnostics", "name": "debug", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/service.StatsResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        }
    },
    "definitions": {
        "handler.errorEnvelope": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handler.errorPayload": {
            "type": "object",
            "properties": {
                "error": {"$ref": "#/definitions/handler.errorEnvelope"},
                "request_id": {"type": "string"}
            }
        },
        "service.ResetResult": {
            "type": "object",
            "properties": {
                "counter_reset": {"type": "boolean"},
                "logs_reset": {"type": "boolean"}
            }
        },
        "service.StatsResult": {
            "type": "object",
            "properties": {
                "data": {"type": "object", "additionalProperties": {}},
                "reset_result": {"$ref": "#/definitions/service.ResetResult"},
                "status": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Document Image API",
	Description:      "Resolves document IDs to images and reports request statistics.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
