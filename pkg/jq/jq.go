package jq

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
)

// Expression is a compiled jq program.
type Expression struct {
	*gojq.Code
	query string
}

func (e *Expression) Query() string {
	return e.query
}

func CompileExpression(expression string) (*Expression, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, err
	}
	return &Expression{Code: code, query: expression}, nil
}

// Execute runs the expression against a decoded JSON value.
// No output is null, a single output is returned as is, several outputs are wrapped into an array.
func Execute(expression *Expression, input any) ([]byte, error) {
	outputs, err := collect(expression.Run(input))
	if err != nil {
		return nil, err
	}

	switch len(outputs) {
	case 0:
		return []byte("null"), nil
	case 1:
		return json.Marshal(outputs[0])
	}
	return json.Marshal(outputs)
}

func collect(iter gojq.Iter) ([]any, error) {
	var outputs []any
	for v, ok := iter.Next(); ok; v, ok = iter.Next() {
		err, isErr := v.(error)
		if !isErr {
			outputs = append(outputs, v)
			continue
		}
		// halt without a value stops the program without an error.
		var haltErr *gojq.HaltError
		if errors.As(err, &haltErr) && haltErr.Value() == nil {
			break
		}
		return nil, err
	}
	return outputs, nil
}

// ApplyFilter decodes jsonData and runs a jq filter on it.
func ApplyFilter(filter string, jsonData []byte) ([]byte, error) {
	expr, err := CompileExpression(filter)
	if err != nil {
		return nil, fmt.Errorf("compile jq filter '%s': %w", filter, err)
	}

	var input any
	if err := json.Unmarshal(jsonData, &input); err != nil {
		return nil, fmt.Errorf("decode jq input: %w", err)
	}

	res, err := Execute(expr, input)
	if err != nil {
		return nil, fmt.Errorf("jq filter '%s': %w", filter, err)
	}
	return res, nil
}

func Info() string {
	return "jq implementation: itchyny/gojq"
}
