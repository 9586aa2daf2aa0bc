package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "RoomCheck API",
        "description": "Dormitory bed-presence tracking: fingerprint check-in, leave workflow and reporting",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        },
        "DeviceToken": {
            "type": "apiKey",
            "name": "X-Api-Token",
            "in": "header"
        }
    },
    "tags": [
        {"name": "Auth", "description": "Staff authentication"},
        {"name": "Status", "description": "Derived bed-presence board"},
        {"name": "Leave", "description": "Student leave applications"},
        {"name": "Students", "description": "Dorm roster"},
        {"name": "Fingerprints", "description": "Slot-to-student mappings"},
        {"name": "Devices", "description": "Fingerprint terminal registry"},
        {"name": "Device API", "description": "Hardware-facing endpoints"},
        {"name": "Stats", "description": "Aggregated presence statistics"},
        {"name": "Exports", "description": "Asynchronous report exports"},
        {"name": "Users", "description": "Staff accounts and audit trail"},
        {"name": "System", "description": "Runtime metrics"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate with username and password",
                "responses": {"200": {"description": "Tokens issued"}}
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate a refresh token",
                "responses": {"200": {"description": "Tokens rotated"}}
            }
        },
        "/status": {
            "get": {
                "tags": ["Status"],
                "summary": "Status board for one date",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Status"],
                "summary": "Manually set a student status",
                "responses": {"201": {"description": "Record appended"}}
            }
        },
        "/leave": {
            "post": {
                "tags": ["Leave"],
                "summary": "Submit a leave application",
                "responses": {"201": {"description": "Application created"}}
            }
        },
        "/leave/captcha": {
            "get": {
                "tags": ["Leave"],
                "summary": "Issue a captcha challenge",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/fingerprints/import": {
            "post": {
                "tags": ["Fingerprints"],
                "summary": "Import fingerprint mappings",
                "responses": {"200": {"description": "Per-row verdicts"}}
            }
        },
        "/device/checkin": {
            "post": {
                "tags": ["Device API"],
                "summary": "Record a fingerprint check event",
                "responses": {"201": {"description": "Display payload"}}
            }
        },
        "/exports": {
            "post": {
                "tags": ["Exports"],
                "summary": "Queue an export job",
                "responses": {"202": {"description": "Job accepted"}}
            }
        }
    },
    "definitions": {
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
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
