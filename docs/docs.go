// Package docs registers the OpenAPI document served under /swagger.
// Regenerate with: swag init -g main.go
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
        "/auth/login": {"post": {"tags": ["Auth"], "summary": "Log in with email and password", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/auth/signup": {"post": {"tags": ["Auth"], "summary": "Register a new account", "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}}},
        "/auth/session": {"get": {"tags": ["Auth"], "summary": "Current session state", "responses": {"200": {"description": "OK"}}}},
        "/auth/logout": {"post": {"tags": ["Auth"], "summary": "Log out", "responses": {"200": {"description": "OK"}}}},
        "/persons": {
            "get": {"tags": ["Persons"], "summary": "List registry entries", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["Persons"], "summary": "Create an entry, optionally with a photo", "responses": {"201": {"description": "Created"}}}
        },
        "/persons/{id}": {
            "get": {"tags": ["Persons"], "summary": "Get one entry", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "patch": {"tags": ["Persons"], "summary": "Update an entry", "responses": {"200": {"description": "OK"}}},
            "delete": {"tags": ["Persons"], "summary": "Delete an entry", "responses": {"200": {"description": "OK"}}}
        },
        "/persons/{id}/photo": {
            "put": {"tags": ["Persons"], "summary": "Replace the profile photo", "responses": {"200": {"description": "OK"}}},
            "delete": {"tags": ["Persons"], "summary": "Remove the profile photo", "responses": {"200": {"description": "OK"}}}
        },
        "/admin/persons/{id}/approve": {"post": {"tags": ["Admin"], "summary": "Approve an entry", "responses": {"200": {"description": "OK"}}}},
        "/admin/persons/{id}/reject": {"post": {"tags": ["Admin"], "summary": "Reject an entry", "responses": {"200": {"description": "OK"}}}},
        "/dashboard": {"get": {"tags": ["Dashboard"], "summary": "Stats, map and birthdays", "responses": {"200": {"description": "OK"}}}},
        "/dashboard/stats": {"get": {"tags": ["Dashboard"], "summary": "Registry counts", "responses": {"200": {"description": "OK"}}}},
        "/dashboard/map": {"get": {"tags": ["Dashboard"], "summary": "Approved locations grouped by rounded coordinates", "responses": {"200": {"description": "OK"}}}},
        "/dashboard/birthdays": {"get": {"tags": ["Dashboard"], "summary": "Birthdays of a month", "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Person Registry API",
	Description:      "Personnel registry backed by a hosted auth, REST and storage service.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
