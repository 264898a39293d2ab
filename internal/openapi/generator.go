// Package openapi generates the OpenAPI 3.1 document served at
// /openapi.json.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

func stringSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
}

func intSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}
}

func boolSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}

func arraySchema(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: items}}
}

func objectSchema(props openapi3.Schemas) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}, Properties: props}}
}

func refSchema(name string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
}

func enumSchema(values ...interface{}) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: values}}
}

// GenerateSpec builds the API document.
func GenerateSpec(baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "QueryLens API",
			Description: "SQL explanation service: plain-language query walkthroughs, EXPLAIN plan analysis, and index suggestions.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	addSchemas(doc)

	doc.Paths = openapi3.NewPaths()
	addExplainPath(doc)
	addFingerprintPath(doc)
	addCacheStatsPath(doc)

	return doc
}

func addSchemas(doc *openapi3.T) {
	doc.Components.Schemas["ErrorResponse"] = objectSchema(openapi3.Schemas{
		"error": objectSchema(openapi3.Schemas{
			"code":    intSchema(),
			"message": stringSchema(),
			"context": objectSchema(nil),
		}),
	})

	doc.Components.Schemas["ExplainRequest"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"sql"},
			Properties: openapi3.Schemas{
				"sql":         stringSchema(),
				"dialect":     enumSchema("postgres", "mysql", "sqlite"),
				"schema":      stringSchema(),
				"explainPlan": stringSchema(),
				"privacyMode": boolSchema(),
				"cache":       boolSchema(),
				"target":      stringSchema(),
			},
		},
	}

	doc.Components.Schemas["QueryFingerprint"] = objectSchema(openapi3.Schemas{
		"hash":                  stringSchema(),
		"pattern":               stringSchema(),
		"tables":                arraySchema(stringSchema()),
		"joinCount":             intSchema(),
		"whereClauseComplexity": intSchema(),
	})

	doc.Components.Schemas["OptimizationSuggestion"] = objectSchema(openapi3.Schemas{
		"title":           stringSchema(),
		"severity":        enumSchema("low", "medium", "high"),
		"reason":          stringSchema(),
		"change":          stringSchema(),
		"estimatedImpact": stringSchema(),
	})

	doc.Components.Schemas["ExplanationResult"] = objectSchema(openapi3.Schemas{
		"summary":     stringSchema(),
		"walkthrough": arraySchema(stringSchema()),
		"planAnalysis": arraySchema(objectSchema(openapi3.Schemas{
			"operation": stringSchema(),
			"detail":    stringSchema(),
			"concern":   stringSchema(),
		})),
		"optimizations": arraySchema(refSchema("OptimizationSuggestion")),
		"antipatterns": arraySchema(objectSchema(openapi3.Schemas{
			"name":        stringSchema(),
			"description": stringSchema(),
			"fix":         stringSchema(),
		})),
		"rewrittenSQL":    stringSchema(),
		"confidence":      enumSchema("low", "medium", "high"),
		"fingerprint":     refSchema("QueryFingerprint"),
		"executionTimeMs": intSchema(),
		"cached":          boolSchema(),
	})

	doc.Components.Schemas["CacheStats"] = objectSchema(openapi3.Schemas{
		"hits":    intSchema(),
		"misses":  intSchema(),
		"entries": intSchema(),
	})
}

func jsonResponse(description string, schema *openapi3.SchemaRef) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &description,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func addExplainPath(doc *openapi3.T) {
	op := openapi3.NewOperation()
	op.OperationID = "explainQuery"
	op.Summary = "Explain a SQL query"
	op.Description = "Generates a plain-language explanation, optionally enriched with EXPLAIN plan analysis and index suggestions. Results are cached by query fingerprint."
	op.RequestBody = &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: true,
			Content:  openapi3.NewContentWithJSONSchemaRef(refSchema("ExplainRequest")),
		},
	}
	op.Responses = openapi3.NewResponses()
	op.Responses.Set("200", jsonResponse("Explanation", refSchema("ExplanationResult")))
	op.Responses.Set("400", jsonResponse("Invalid request", refSchema("ErrorResponse")))
	op.Responses.Set("429", jsonResponse("Token budget exceeded", refSchema("ErrorResponse")))
	op.Responses.Set("502", jsonResponse("Backend unavailable", refSchema("ErrorResponse")))

	item := &openapi3.PathItem{Post: op}
	doc.Paths.Set("/api/v1/explain", item)
}

func addFingerprintPath(doc *openapi3.T) {
	op := openapi3.NewOperation()
	op.OperationID = "fingerprintQuery"
	op.Summary = "Fingerprint a SQL query"
	op.Description = "Returns the literal-independent fingerprint used as the cache key for a statement."
	op.AddParameter(&openapi3.Parameter{
		Name:     "sql",
		In:       "query",
		Required: true,
		Schema:   stringSchema(),
	})
	op.Responses = openapi3.NewResponses()
	op.Responses.Set("200", jsonResponse("Fingerprint", refSchema("QueryFingerprint")))
	op.Responses.Set("400", jsonResponse("Invalid request", refSchema("ErrorResponse")))

	doc.Paths.Set("/api/v1/fingerprint", &openapi3.PathItem{Get: op})
}

func addCacheStatsPath(doc *openapi3.T) {
	op := openapi3.NewOperation()
	op.OperationID = "cacheStats"
	op.Summary = "Cache statistics"
	op.Responses = openapi3.NewResponses()
	op.Responses.Set("200", jsonResponse("Statistics", refSchema("CacheStats")))

	doc.Paths.Set("/api/v1/cache/stats", &openapi3.PathItem{Get: op})
}
