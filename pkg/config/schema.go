package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goplc-io/goplc/pkg/ctxstore"
	"github.com/goplc-io/goplc/pkg/modbusio"
	"github.com/goplc-io/goplc/pkg/sched"
)

func parseInterval(spec string) (time.Duration, error) {
	return sched.ParseInterval(spec)
}

func parseOffset(spec string, r modbusio.Range) (int, error) {
	return modbusio.ParseOffset(spec, r)
}

// parseSchema turns the declared field tree into a type descriptor.
// Declaration order is the YAML document order.
func parseSchema(node *yaml.Node) (*ctxstore.Type, error) {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null") {
		return nil, fmt.Errorf("%w: context.fields is required", ErrConfig)
	}
	return parseStruct(node, "context.fields")
}

func parseStruct(node *yaml.Node, at string) (*ctxstore.Type, error) {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s: expected a field mapping", ErrConfig, at)
	}

	fields := make([]ctxstore.Field, 0, len(node.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		name, arrLen, isArray, err := arrayKey(keyNode.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfig, at, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %s: duplicate field %q", ErrConfig, at, name)
		}
		seen[name] = true

		typ, err := parseFieldType(valNode, at+"."+name)
		if err != nil {
			return nil, err
		}
		if isArray {
			typ = ctxstore.ArrayOf(typ, arrLen)
		}
		fields = append(fields, ctxstore.Field{Name: name, Type: typ})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s: empty field mapping", ErrConfig, at)
	}
	return ctxstore.StructOf(fields...), nil
}

func parseFieldType(node *yaml.Node, at string) (*ctxstore.Type, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		typ, err := ctxstore.ParseTypeSpec(node.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfig, at, err)
		}
		return typ, nil
	case yaml.MappingNode:
		return parseStruct(node, at)
	default:
		return nil, fmt.Errorf("%w: %s: expected a type name or nested mapping", ErrConfig, at)
	}
}
