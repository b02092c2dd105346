// Package openapi describes the claim mapping API as an OpenAPI 3.0 document.
package openapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	paramClaimID  = "PayerClaimUniqueIdentifier"
	paramClaimIDs = "PayerClaimUniqueIdentifiers"
)

// Generator builds the OpenAPI document for the mapping routes.
type Generator struct {
	version  string
	baseURL  string
	basePath string
}

// NewGenerator creates a generator. basePath is the prefix the mapping
// routes are mounted under, such as "/api".
func NewGenerator(version, baseURL, basePath string) *Generator {
	return &Generator{version: version, baseURL: baseURL, basePath: basePath}
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	idQuery := map[string]interface{}{
		"name":        paramClaimID,
		"in":          "query",
		"description": "Claim identifier. Takes precedence over the request body.",
		"schema":      map[string]string{"type": "string"},
	}

	single := func(method string) map[string]interface{} {
		op := map[string]interface{}{
			"summary":     "Map one claim to an ExplanationOfBenefit",
			"operationId": "mapFHIR" + method,
			"tags":        []string{"ExplanationOfBenefit"},
			"parameters":  []map[string]interface{}{idQuery},
			"responses": map[string]interface{}{
				"200": jsonResponse("Envelope holding the mapped document", "#/components/schemas/Envelope"),
				"400": outcomeResponse("Missing or blank claim identifier"),
				"500": outcomeResponse("Claim store failure"),
				"504": outcomeResponse("Request deadline exceeded"),
			},
		}
		if method == "Post" {
			op["requestBody"] = jsonBody("#/components/schemas/SingleRequest", false)
		}
		return op
	}

	bulk := func(method string) map[string]interface{} {
		return map[string]interface{}{
			"summary":     "Map several claims, one envelope per identifier in input order",
			"operationId": "mapFHIRBulk" + method,
			"tags":        []string{"ExplanationOfBenefit"},
			"requestBody": jsonBody("#/components/schemas/BulkRequest", true),
			"responses": map[string]interface{}{
				"200": map[string]interface{}{
					"description": "Envelopes in input order",
					"content": map[string]interface{}{
						"application/json": map[string]interface{}{
							"schema": map[string]interface{}{
								"type":  "array",
								"items": map[string]interface{}{"$ref": "#/components/schemas/Envelope"},
							},
						},
					},
				},
				"400": outcomeResponse("Missing identifier list or blank entry"),
				"413": outcomeResponse("Request body too large"),
				"500": outcomeResponse("Claim store failure"),
				"504": outcomeResponse("Request deadline exceeded"),
			},
		}
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Claim to ExplanationOfBenefit Mapper",
			"version":     g.version,
			"description": "Maps payer claims to FHIR R4 ExplanationOfBenefit documents",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": map[string]interface{}{
			g.basePath + "/MapFHIR": map[string]interface{}{
				"get":  single("Get"),
				"post": single("Post"),
			},
			g.basePath + "/MapFHIRBulk": map[string]interface{}{
				"get":  bulk("Get"),
				"post": bulk("Post"),
			},
		},
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
		},
	}
}

// RegisterRoutes serves the document at /openapi.json.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
}

func jsonBody(schemaRef string, required bool) map[string]interface{} {
	return map[string]interface{}{
		"required": required,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": schemaRef},
			},
		},
	}
}

func jsonResponse(description, schemaRef string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": schemaRef},
			},
			"application/fhir+json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": schemaRef},
			},
		},
	}
}

func outcomeResponse(description string) map[string]interface{} {
	return jsonResponse(description, "#/components/schemas/OperationOutcome")
}

func buildComponentSchemas() map[string]interface{} {
	str := map[string]interface{}{"type": "string"}
	ref := func(name string) map[string]interface{} {
		return map[string]interface{}{"$ref": "#/components/schemas/" + name}
	}
	arrayOf := func(name string) map[string]interface{} {
		return map[string]interface{}{"type": "array", "items": ref(name)}
	}

	return map[string]interface{}{
		"SingleRequest": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{paramClaimID: str},
			"required":   []string{paramClaimID},
		},
		"BulkRequest": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				paramClaimIDs: map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string", "minLength": 1},
				},
			},
			"required": []string{paramClaimIDs},
		},
		"Envelope": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"Output": ref("ExplanationOfBenefit")},
			"required":   []string{"Output"},
		},
		"Coding": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"system":  map[string]interface{}{"type": "string", "format": "uri"},
				"code":    str,
				"display": str,
			},
		},
		"CodeableConcept": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"coding": arrayOf("Coding"),
				"text":   str,
			},
		},
		"Reference": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"reference": str, "display": str},
		},
		"Identifier": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type":   ref("CodeableConcept"),
				"system": map[string]interface{}{"type": "string", "format": "uri"},
				"value":  str,
			},
		},
		"Item": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"sequence":         map[string]interface{}{"type": "integer"},
				"category":         ref("CodeableConcept"),
				"productOrService": ref("CodeableConcept"),
				"modifier":         arrayOf("CodeableConcept"),
			},
			"required": []string{"sequence"},
		},
		"ExplanationOfBenefit": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"resourceType": map[string]interface{}{"type": "string", "enum": []string{"ExplanationOfBenefit"}},
				"identifier":   arrayOf("Identifier"),
				"status":       map[string]interface{}{"type": "string", "enum": []string{"active", "cancelled"}},
				"type":         ref("CodeableConcept"),
				"patient":      ref("Reference"),
				"created":      map[string]interface{}{"type": "string", "format": "date"},
				"outcome":      str,
				"item":         arrayOf("Item"),
				"total": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"category": ref("CodeableConcept"),
							"amount": map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"value":    map[string]interface{}{"type": "number"},
									"currency": str,
								},
							},
						},
					},
				},
			},
			"required": []string{"resourceType"},
		},
		"OperationOutcome": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"resourceType": map[string]interface{}{"type": "string", "enum": []string{"OperationOutcome"}},
				"issue": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"severity": map[string]interface{}{
								"type": "string",
								"enum": []string{"fatal", "error", "warning", "information"},
							},
							"code":        str,
							"diagnostics": str,
							"expression": map[string]interface{}{
								"type":  "array",
								"items": str,
							},
						},
						"required": []string{"severity", "code"},
					},
				},
			},
			"required": []string{"resourceType", "issue"},
		},
	}
}
