package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FloatList accepts either a single number or a sequence of numbers
type FloatList []float64

func (l *FloatList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v float64
		if err := node.Decode(&v); err != nil {
			return err
		}
		*l = FloatList{v}
	case yaml.SequenceNode:
		var vs []float64
		if err := node.Decode(&vs); err != nil {
			return err
		}
		*l = vs
	default:
		return fmt.Errorf("line %d: expected a number or a list of numbers", node.Line)
	}
	return nil
}

// IntList accepts either a single integer or a sequence of integers
type IntList []int

func (l *IntList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v int
		if err := node.Decode(&v); err != nil {
			return err
		}
		*l = IntList{v}
	case yaml.SequenceNode:
		var vs []int
		if err := node.Decode(&vs); err != nil {
			return err
		}
		*l = vs
	default:
		return fmt.Errorf("line %d: expected an integer or a list of integers", node.Line)
	}
	return nil
}
