package datasource

import (
	pkgerrors "Best_IP_Selector_Go/pkg/errors"
	"Best_IP_Selector_Go/pkg/model"
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
)

// ParseTarget 按第一个 '/' 把 "domain/path..." 拆成域名和资源路径
func ParseTarget(line string) (model.Target, error) {
	line = strings.TrimSpace(line)
	domain, path, _ := strings.Cut(line, "/")
	if domain == "" {
		return model.Target{}, fmt.Errorf("%w: 域名为空", pkgerrors.ErrMissingData)
	}
	return model.Target{Domain: domain, Path: path}, nil
}

// LoadTarget 读取描述文件的第一行非空内容作为测速目标
func LoadTarget(filePath string) (model.Target, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return model.Target{}, sourceError(filePath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		target, err := ParseTarget(line)
		if err != nil {
			return model.Target{}, &pkgerrors.SourceError{Path: filePath, Err: err}
		}
		return target, nil
	}
	if err := scanner.Err(); err != nil {
		return model.Target{}, sourceError(filePath, err)
	}
	return model.Target{}, sourceError(filePath, fmt.Errorf("文件为空或无法读取"))
}

// ParseCandidates 每行一个 "address[/suffix]"，丢弃 '/' 之后的部分。
// 空行和 '#' 开头的注释行被忽略，保留原始顺序与重复项
func ParseCandidates(r io.Reader) ([]string, error) {
	var ips []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, _, _ := strings.Cut(line, "/")
		if addr = strings.TrimSpace(addr); addr != "" {
			ips = append(ips, addr)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ips, nil
}

// LoadCandidates 从文件加载候选地址，文件缺失或没有任何地址时返回 ErrMissingData
func LoadCandidates(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, sourceError(filePath, err)
	}
	defer file.Close()

	ips, err := ParseCandidates(file)
	if err != nil {
		return nil, sourceError(filePath, err)
	}
	if len(ips) == 0 {
		return nil, sourceError(filePath, fmt.Errorf("未找到任何候选地址"))
	}
	return ips, nil
}

// Shuffle 原地均匀打乱候选顺序，避免数据源按地区分组带来的偏差
func Shuffle(ips []string, rng *rand.Rand) {
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(ips), func(i, j int) {
		ips[i], ips[j] = ips[j], ips[i]
	})
}

func sourceError(path string, err error) error {
	return &pkgerrors.SourceError{Path: path, Err: fmt.Errorf("%w: %v", pkgerrors.ErrMissingData, err)}
}
