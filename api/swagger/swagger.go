package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Agency Billing API",
        "description": "Lesson settlement and invoicing engine for tutoring agencies",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Settlements", "description": "Settlement run triggers and repair"},
        {"name": "Invoices", "description": "Generated invoice read side"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/api/v1/settlements/run": {
            "post": {
                "tags": ["Settlements"],
                "summary": "Trigger a settlement run",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RunSettlementRequest"}}
                ],
                "responses": {
                    "200": {"description": "Run report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Run enqueued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Run already in progress", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/settlements/reconcile": {
            "post": {
                "tags": ["Settlements"],
                "summary": "Repair lessons left unbilled by an interrupted run",
                "parameters": [
                    {"name": "type", "in": "query", "required": true, "type": "string", "enum": ["receivables", "payables"]}
                ],
                "responses": {
                    "200": {"description": "Reconcile report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/invoices": {
            "get": {
                "tags": ["Invoices"],
                "summary": "List invoices",
                "parameters": [
                    {"name": "type", "in": "query", "type": "string", "enum": ["receivables", "payables"]},
                    {"name": "partyId", "in": "query", "type": "string"},
                    {"name": "month", "in": "query", "type": "integer"},
                    {"name": "year", "in": "query", "type": "integer"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/invoices/export": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Export invoices to CSV",
                "parameters": [
                    {"name": "type", "in": "query", "type": "string", "enum": ["receivables", "payables"]},
                    {"name": "partyId", "in": "query", "type": "string"},
                    {"name": "month", "in": "query", "type": "integer"},
                    {"name": "year", "in": "query", "type": "integer"},
                    {"name": "status", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Export descriptor with signed token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exports/{token}": {
            "get": {
                "tags": ["Invoices"],
                "summary": "Download a generated export",
                "produces": ["text/csv"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "CSV file"},
                    "400": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/invoices/{id}": {
            "get": {
                "tags": ["Invoices"],
                "summary": "Get invoice with line items",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/invoices/{id}/status": {
            "patch": {
                "tags": ["Invoices"],
                "summary": "Change invoice status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateStatusRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        }
    },
    "definitions": {
        "RunSettlementRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["receivables", "payables"]},
                "period": {"type": "string", "enum": ["current", "previous"]},
                "async": {"type": "boolean"}
            },
            "required": ["type", "period"]
        },
        "UpdateStatusRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["PAID", "ACTIVE", "SUSPENDED", "DELETED"]}
            },
            "required": ["status"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
