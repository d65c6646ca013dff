package compose

import (
	"fmt"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/xeipuuv/gojsonschema"
)

// The shape of the compose file, as far as it matters here. Only
// types are checked; the meaning of values is checked while loading.
const projectSchema = `{
  "type": "object",
  "required": ["services"],
  "properties": {
    "version": {"type": ["string", "number"]},
    "services": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "image": {"type": "string"},
          "build": {"$ref": "#/definitions/build"},
          "ports": {"$ref": "#/definitions/ports"},
          "expose": {"$ref": "#/definitions/ports"},
          "environment": {"$ref": "#/definitions/listOrMap"},
          "command": {"$ref": "#/definitions/stringOrList"},
          "entrypoint": {"$ref": "#/definitions/stringOrList"},
          "restart": {"type": "string"},
          "volumes": {
            "type": "array",
            "items": {"type": ["string", "object"]}
          },
          "volumes_from": {
            "type": "array",
            "items": {"type": "string"}
          }
        }
      }
    },
    "volumes": {
      "type": ["object", "null"],
      "additionalProperties": {
        "type": ["object", "null"],
        "properties": {
          "name": {"type": "string"},
          "driver": {"type": "string"},
          "driver_opts": {
            "type": "object",
            "additionalProperties": {"type": ["string", "number", "boolean"]}
          },
          "external": {"type": ["boolean", "object"]}
        }
      }
    }
  },
  "definitions": {
    "build": {
      "type": ["string", "object"],
      "properties": {
        "context": {"type": "string"},
        "dockerfile": {"type": "string"}
      }
    },
    "ports": {
      "type": "array",
      "items": {"type": ["string", "number"]}
    },
    "listOrMap": {
      "type": ["array", "object"],
      "items": {"type": "string"},
      "additionalProperties": {"type": ["string", "number", "boolean", "null"]}
    },
    "stringOrList": {
      "type": ["string", "array"],
      "items": {"type": "string"}
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(projectSchema)

// validateShape checks the compose document against projectSchema.
func validateShape(data []byte) error {
	doc, err := yaml.YAMLToJSON(data)
	if err != nil {
		return err
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	if result.Valid() {
		return nil
	}
	var msgs []string
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid compose file: %s", strings.Join(msgs, "; "))
}
