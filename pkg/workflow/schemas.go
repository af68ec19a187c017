package workflow

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-openapi/spec"
	"github.com/go-openapi/swag"
)

var Schemas = map[string]string{
	"v1": `
definitions:
  secretSource:
    type: object
    additionalProperties: false
    minProperties: 1
    maxProperties: 1
    properties:
      env:
        type: string
        minLength: 1
      file:
        type: string
        minLength: 1
      dotenv:
        type: object
        additionalProperties: false
        required:
        - key
        properties:
          path:
            type: string
          key:
            type: string
            minLength: 1
      kubernetes:
        type: object
        additionalProperties: false
        required:
        - name
        - key
        properties:
          namespace:
            type: string
          name:
            type: string
            minLength: 1
          key:
            type: string
            minLength: 1

type: object
additionalProperties: false
required:
- configVersion
- name
- run
properties:
  configVersion:
    type: string
    enum:
    - v1
  name:
    type: string
    pattern: '^[a-zA-Z0-9][a-zA-Z0-9_.-]*$'
  triggers:
    type: object
    additionalProperties: false
    properties:
      schedule:
        type: array
        items:
          type: object
          additionalProperties: false
          required:
          - cron
          properties:
            name:
              type: string
            cron:
              type: string
              minLength: 1
      manual:
        type: boolean
  runtime:
    type: object
    additionalProperties: false
    required:
    - name
    properties:
      name:
        type: string
        minLength: 1
      version:
        type: string
      versionArgs:
        type: array
        items:
          type: string
  install:
    type: object
    additionalProperties: false
    minProperties: 1
    properties:
      manifest:
        type: string
      command:
        type: string
  run:
    type: object
    additionalProperties: false
    required:
    - command
    properties:
      command:
        type: string
        minLength: 1
      env:
        type: object
        additionalProperties:
          type: string
  secrets:
    type: array
    items:
      type: object
      additionalProperties: false
      required:
      - name
      - from
      properties:
        name:
          type: string
          pattern: '^[A-Za-z_][A-Za-z0-9_]*$'
        from:
          "$ref": "#/definitions/secretSource"
  concurrency:
    type: string
    enum:
    - queue
    - skip
  timeout:
    type: string
  workingDir:
    type: string
`,
}

var (
	schemasCache   = map[string]*spec.Schema{}
	schemasCacheMu sync.Mutex
)

// GetSchema returns loaded schema. The workflow watcher reloads concurrently with CLI commands.
func GetSchema(name string) *spec.Schema {
	schemasCacheMu.Lock()
	defer schemasCacheMu.Unlock()

	if s, ok := schemasCache[name]; ok {
		return s
	}
	if _, ok := Schemas[name]; !ok {
		return nil
	}

	// ignore error because load is guaranteed by tests
	schemasCache[name], _ = LoadSchema(name)
	return schemasCache[name]
}

// LoadSchema returns spec.Schema object loaded from yaml in Schemas map.
func LoadSchema(name string) (*spec.Schema, error) {
	yml, err := swag.BytesToYAMLDoc([]byte(Schemas[name]))
	if err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %v", err)
	}
	d, err := swag.YAMLToJSON(yml)
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %v", err)
	}

	s := new(spec.Schema)

	if err := json.Unmarshal(d, s); err != nil {
		return nil, fmt.Errorf("json unmarshal: %v", err)
	}

	if err := spec.ExpandSchema(s, s, nil); err != nil {
		return nil, fmt.Errorf("expand schema: %v", err)
	}

	return s, nil
}
