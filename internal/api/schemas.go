// internal/api/schemas.go
package api

import "funding-engine/internal/common/validation"

const submitRequestSchemaJSON = `{
  "type": "object",
  "required": ["companyId", "amount", "fundingType", "applicant"],
  "properties": {
    "companyId":   {"type": "string", "minLength": 1},
    "userId":      {"type": "string"},
    "amount":      {"type": ["number", "string"]},
    "termMonths":  {"type": ["integer", "null"], "minimum": 1},
    "fundingType": {"type": "string", "minLength": 1},
    "applicant": {
      "type": "object",
      "required": ["firstName", "lastName", "email"],
      "properties": {
        "firstName": {"type": "string", "minLength": 1},
        "lastName":  {"type": "string", "minLength": 1},
        "email":     {"type": "string", "format": "email"},
        "phone":     {"type": "string"}
      }
    }
  }
}`

const webhookEnvelopeSchemaJSON = `{
  "type": "object",
  "required": ["event"],
  "properties": {
    "event":         {"type": "string", "minLength": 1},
    "uuid":          {"type": "string"},
    "timestamp":     {"type": ["string", "number", "null"]},
    "applicationId": {"type": ["string", "number", "null"]},
    "data":          {}
  }
}`

var (
	submitRequestSchema   = validation.MustCompile("submit-request", submitRequestSchemaJSON)
	webhookEnvelopeSchema = validation.MustCompile("webhook-envelope", webhookEnvelopeSchemaJSON)
)
