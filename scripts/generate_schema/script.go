//go:build ignore
// +build ignore

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <catalog-source-file>\n", os.Args[0])
		os.Exit(1)
	}

	catalogSourceFile := os.Args[1]

	// Read the catalog source to extract the allowed enum values
	catalogContent, err := os.ReadFile(catalogSourceFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading catalog source file: %v\n", err)
		os.Exit(1)
	}

	// Parse the oneof validate tags
	categoryValues := parseOneofValues(catalogContent, "Category")
	dialectValues := parseOneofValues(catalogContent, "Dialect")

	if len(categoryValues) == 0 || len(dialectValues) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no oneof values found in %s\n", catalogSourceFile)
		os.Exit(1)
	}

	// Generate JSON schema
	schema := generateJSONSchema(categoryValues, dialectValues)

	// Marshal to JSON with indentation
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON schema: %v\n", err)
		os.Exit(1)
	}

	// Write to file
	outputPath := filepath.Join("schema", "datasources.schema.json")
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outputPath, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Generated JSON schema: %s\n", outputPath)
}

// parseOneofValues extracts the allowed values from a struct field's oneof
// validate tag
func parseOneofValues(content []byte, fieldName string) []string {
	fieldPattern := regexp.MustCompile(fmt.Sprintf(`%s\s+[^\n]*?oneof=([a-z ]+)"`, fieldName))
	matches := fieldPattern.FindSubmatch(content)
	if len(matches) < 2 {
		return nil
	}
	return strings.Fields(string(matches[1]))
}

// generateJSONSchema creates a JSON schema for datasources.yaml catalog files
// This schema matches the validations in core/catalog/catalog.go
func generateJSONSchema(categoryValues, dialectValues []string) map[string]interface{} {
	// Id pattern: must start with a letter, followed by letters, numbers,
	// hyphens, and underscores
	idPattern := "^[a-zA-Z][a-zA-Z0-9_-]*$"

	schema := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"$id":         "https://raw.githubusercontent.com/querymend/querymend/refs/heads/main/schema/datasources.schema.json",
		"title":       "querymend data sources",
		"description": "JSON schema for querymend datasources.yaml catalog files.",
		"type":        "object",
		"properties": map[string]interface{}{
			"data_sources": map[string]interface{}{
				"type":        "array",
				"description": "Data sources questions can be asked against (required, at least one)",
				"minItems":    1,
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id": map[string]interface{}{
							"type":        "string",
							"description": "Unique data source identifier (required)",
							"pattern":     idPattern,
							"minLength":   1,
						},
						"category": map[string]interface{}{
							"type":        "string",
							"description": "Source category, selects the default dialect (required)",
							"enum":        categoryValues,
						},
						"dialect": map[string]interface{}{
							"type":        "string",
							"description": "Explicit SQL dialect, overrides the category default",
							"enum":        dialectValues,
						},
						"connection": map[string]interface{}{
							"type":        "object",
							"description": "Connection parameters, values support {{ env.VARIABLE }} substitution",
							"properties": map[string]interface{}{
								"host": map[string]interface{}{
									"type":        "string",
									"description": "Hostname for HTTP-queryable sources",
								},
								"port": map[string]interface{}{
									"type":        "integer",
									"description": "Port for HTTP-queryable sources (default: 8123)",
									"minimum":     1,
									"maximum":     65535,
								},
								"database": map[string]interface{}{
									"type":        "string",
									"description": "Database name",
								},
								"user": map[string]interface{}{
									"type":        "string",
									"description": "Database user",
								},
								"password": map[string]interface{}{
									"type":        "string",
									"description": "Database password",
								},
								"path": map[string]interface{}{
									"type":        "string",
									"description": "Database file path for file sources",
								},
								"container_alias": map[string]interface{}{
									"type":        "string",
									"description": "Fallback hostname tried after the declared host",
								},
							},
							"additionalProperties": false,
						},
					},
					"required":             []string{"id", "category"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"data_sources"},
		"additionalProperties": false,
		"$comment": "Duplicate data source ids and {{ env.* }} placeholder resolution are validated by core/catalog at load time, JSON Schema cannot express either.",
	}

	return schema
}
