package server

import (
	"Best_IP_Selector_Go/internal/config"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// invalidConfigError 表示提交的配置无法通过校验，文件未被修改
type invalidConfigError struct {
	err error
}

func (e *invalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %v", e.err)
}

func (e *invalidConfigError) Unwrap() error {
	return e.err
}

// saveConfigWithComments 只替换 newValues 中出现的键，保留文件中的注释与顺序。
// 文件中不存在的键追加到末尾。合并后的配置必须能通过校验才会写回
func saveConfigWithComments(cfgPath string, newValues map[string]interface{}) error {
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if len(root.Content) == 0 {
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}

	// yaml.v3 unmarshals to a document node, we need the content
	docNode := root.Content[0]
	if docNode.Kind != yaml.MappingNode {
		return fmt.Errorf("配置文件顶层不是映射")
	}

	seen := make(map[string]bool, len(newValues))
	for i := 0; i+1 < len(docNode.Content); i += 2 {
		keyNode := docNode.Content[i]
		if newValue, ok := newValues[keyNode.Value]; ok {
			setNodeValue(docNode.Content[i+1], newValue)
			seen[keyNode.Value] = true
		}
	}
	for _, key := range sortedKeys(newValues) {
		if seen[key] {
			continue
		}
		valNode := &yaml.Node{}
		setNodeValue(valNode, newValues[key])
		docNode.Content = append(docNode.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			valNode,
		)
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return err
	}
	if _, err := config.Parse(out); err != nil {
		return &invalidConfigError{err: err}
	}
	return renameio.WriteFile(cfgPath, out, 0644)
}

// setNodeValue 根据 JSON 解码得到的值重建 yaml.Node，保留节点上的注释
func setNodeValue(node *yaml.Node, value interface{}) {
	node.Style = 0
	node.Content = nil
	node.Value = ""
	switch v := value.(type) {
	case []interface{}:
		node.Kind = yaml.SequenceNode
		node.Tag = "!!seq"
		for _, item := range v {
			itemNode := &yaml.Node{}
			setNodeValue(itemNode, item)
			node.Content = append(node.Content, itemNode)
		}
	case map[string]interface{}:
		node.Kind = yaml.MappingNode
		node.Tag = "!!map"
		for _, key := range sortedKeys(v) {
			valNode := &yaml.Node{}
			setNodeValue(valNode, v[key])
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, valNode)
		}
	case bool:
		node.Kind = yaml.ScalarNode
		node.Tag = "!!bool"
		node.Value = strconv.FormatBool(v)
	case float64:
		node.Kind = yaml.ScalarNode
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			node.Tag = "!!int"
			node.Value = strconv.FormatInt(int64(v), 10)
		} else {
			node.Tag = "!!float"
			node.Value = strconv.FormatFloat(v, 'f', -1, 64)
		}
	case nil:
		node.Kind = yaml.ScalarNode
		node.Tag = "!!null"
		node.Value = "null"
	default:
		node.Kind = yaml.ScalarNode
		node.Tag = "!!str"
		node.Value = fmt.Sprintf("%v", v)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
