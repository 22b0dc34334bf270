// Package api embeds the OpenAPI description of the Data API subset spoken by
// the client and exposes helpers to validate payloads against it.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

var (
	//go:embed dataapi.yaml
	rawDoc         []byte
	openApiDocOnce sync.Once
	openApiDoc     *openapi3.T
	openApiDocErr  error
)

// Component schema names used by the client.
const (
	SchemaEnvelope          = "Envelope"
	SchemaEmptyResponse     = "EmptyResponse"
	SchemaLoginResponse     = "LoginResponse"
	SchemaDatabasesResponse = "DatabasesResponse"
	SchemaLayoutsResponse   = "LayoutsResponse"
	SchemaProductInfo       = "ProductInfoResponse"
	SchemaRecordsResponse   = "RecordsResponse"
	SchemaCreateResponse    = "CreateResponse"
	SchemaEditResponse      = "EditResponse"
)

// loadOpenAPIDocOnce parses the embedded document exactly once.
// Errors encountered during the initial load are cached and returned on subsequent calls.
func loadOpenAPIDocOnce() (*openapi3.T, error) {
	openApiDocOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(rawDoc)
		if err != nil {
			openApiDocErr = fmt.Errorf("parse embedded OpenAPI document: %w", err)
			return
		}
		if err = doc.Validate(context.Background()); err != nil {
			openApiDocErr = fmt.Errorf("invalid embedded OpenAPI document: %w", err)
			return
		}
		openApiDoc = doc
	})
	return openApiDoc, openApiDocErr
}

// GetOpenApiResource returns the path item registered for a templated path such as
// "/databases/{database}/layouts/{layout}/records".
func GetOpenApiResource(resourcePath string) (*openapi3.PathItem, error) {
	doc, err := loadOpenAPIDocOnce()
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document: %w", err)
	}
	base := "/" + strings.Trim(resourcePath, "/")
	if item := doc.Paths.Find(base); item != nil {
		return item, nil
	}

	var available []string
	for path := range doc.Paths.Map() {
		available = append(available, path)
	}
	sort.Strings(available)
	return nil, fmt.Errorf(
		"path %q not found in OpenAPI schema. Available paths:\n  - %s",
		resourcePath,
		strings.Join(available, "\n  - "),
	)
}

// GetOperation returns the operation declared for method on a templated path.
func GetOperation(method, resourcePath string) (*openapi3.Operation, error) {
	item, err := GetOpenApiResource(resourcePath)
	if err != nil {
		return nil, err
	}
	op := item.GetOperation(strings.ToUpper(method))
	if op == nil {
		return nil, fmt.Errorf("%s %s is not declared in OpenAPI schema", method, resourcePath)
	}
	return op, nil
}

func GetOpenApiComponentSchema(ref string) (*openapi3.SchemaRef, error) {
	parts := strings.Split(ref, "/")
	ref = parts[len(parts)-1]
	doc, err := loadOpenAPIDocOnce()
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document: %w", err)
	}
	if doc.Components == nil {
		return nil, fmt.Errorf("OpenAPI document has no components defined")
	}
	schemaRef, ok := doc.Components.Schemas[ref]
	if !ok || schemaRef.Value == nil {
		return nil, fmt.Errorf("component schema %q not found in OpenAPI document", ref)
	}
	return schemaRef, nil
}

// GetSchema_RequestBody returns the JSON request body schema of an operation.
// Operations without a body yield an empty (permissive) schema.
func GetSchema_RequestBody(method, resourcePath string) (*openapi3.SchemaRef, error) {
	op, err := GetOperation(method, resourcePath)
	if err != nil {
		return nil, err
	}
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{}}, nil
	}
	content := op.RequestBody.Value.Content.Get("application/json")
	if content == nil || content.Schema == nil {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{}}, nil
	}
	return content.Schema, nil
}

// ValidateComponent checks a raw JSON payload against a named component schema.
func ValidateComponent(name string, payload []byte) error {
	schemaRef, err := GetOpenApiComponentSchema(name)
	if err != nil {
		return err
	}
	return validate(schemaRef, payload)
}

// ValidateRequestBody checks a request payload against the operation's body schema.
func ValidateRequestBody(method, resourcePath string, payload []byte) error {
	schemaRef, err := GetSchema_RequestBody(method, resourcePath)
	if err != nil {
		return err
	}
	return validate(schemaRef, payload)
}

func validate(schemaRef *openapi3.SchemaRef, payload []byte) error {
	var value any
	if len(payload) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(payload, &value); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return schemaRef.Value.VisitJSON(value)
}
