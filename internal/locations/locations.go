package locations

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var (
	iataRegexp    = regexp.MustCompile(`^[A-Z]{3}$`)
	countryRegexp = regexp.MustCompile(`^[A-Z]{2}$`)
)

// ColoTable 用于存储数据中心 IATA 代码到国家代码的映射
type ColoTable map[string]string

// LoadColoFile 从 colo.txt 加载映射。支持两种格式：
// 每行 "IATA,国家代码,..." 的文本，或 [{"iata": "SJC", "cca2": "US"}] 形式的 JSON 数组
func LoadColoFile(filePath string) (ColoTable, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取位置文件 '%s': %w", filePath, err)
	}
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("[")) {
		return parseJSON(data)
	}
	return parseText(data), nil
}

func parseJSON(data []byte) (ColoTable, error) {
	// 临时的结构，用于解析JSON数组中的每个对象
	type locationEntry struct {
		IATA string `json:"iata"`
		CCA2 string `json:"cca2"`
	}

	var entries []locationEntry
	if err := jsoniter.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("解析位置文件 JSON 失败: %w", err)
	}

	table := make(ColoTable)
	for _, entry := range entries {
		table.add(entry.IATA, entry.CCA2)
	}
	return table, nil
}

func parseText(data []byte) ColoTable {
	table := make(ColoTable)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.FieldsFunc(scanner.Text(), func(r rune) bool {
			return r == ',' || r == '\t' || r == ' ' || r == '|'
		})
		if len(fields) < 2 {
			continue
		}
		iata := normalize(fields[0])
		for _, f := range fields[1:] {
			if cc := normalize(f); countryRegexp.MatchString(cc) {
				table.add(iata, cc)
				break
			}
		}
	}
	return table
}

func (t ColoTable) add(iata, country string) {
	iata, country = normalize(iata), normalize(country)
	if iataRegexp.MatchString(iata) && countryRegexp.MatchString(country) {
		t[iata] = country
	}
}

func normalize(s string) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(s), `"'`))
}

// Country 根据 IATA 代码从映射中查找国家代码
func (t ColoTable) Country(colo string) (string, bool) {
	country, ok := t[strings.ToUpper(colo)]
	return country, ok
}
