package openapi

import (
	"encoding/json"
	"testing"
)

func TestGenerateSpec(t *testing.T) {
	doc := GenerateSpec("http://localhost:8080")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("version = %q", doc.OpenAPI)
	}
	if doc.Paths.Find("/api/v1/explain") == nil {
		t.Error("missing /api/v1/explain path")
	}
	if doc.Paths.Find("/api/v1/fingerprint") == nil {
		t.Error("missing /api/v1/fingerprint path")
	}
	if doc.Paths.Find("/api/v1/cache/stats") == nil {
		t.Error("missing /api/v1/cache/stats path")
	}

	explainOp := doc.Paths.Find("/api/v1/explain").Post
	if explainOp == nil {
		t.Fatal("explain path has no POST operation")
	}
	if explainOp.RequestBody == nil || !explainOp.RequestBody.Value.Required {
		t.Error("explain POST should require a body")
	}
	for _, code := range []string{"200", "400", "429", "502"} {
		if explainOp.Responses.Value(code) == nil {
			t.Errorf("explain POST missing %s response", code)
		}
	}

	for _, name := range []string{"ExplainRequest", "ExplanationResult", "QueryFingerprint", "ErrorResponse", "CacheStats"} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Errorf("missing schema %s", name)
		}
	}
}

func TestGeneratedSpecSerializes(t *testing.T) {
	doc := GenerateSpec("http://localhost:8080")

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}

	var round map[string]interface{}
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("unmarshal spec: %v", err)
	}
	if round["openapi"] != "3.1.0" {
		t.Errorf("serialized version = %v", round["openapi"])
	}
}
