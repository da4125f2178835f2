package errors

import (
	"errors"
	"fmt"
)

// 错误分类
var (
	// 数据源缺失或为空，整个运行无法继续
	ErrMissingData = errors.New("missing data")

	// 单个候选的探测失败，只影响该候选
	ErrProbeFailed = errors.New("probe failed")

	// 所有地理位置服务都失败
	ErrLocationUnavailable = errors.New("location unavailable")

	// 结果文件写入失败
	ErrWriteFailed = errors.New("write failed")
)

// SourceError 表示输入文件相关的错误
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source '%s': %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// ProbeError 表示某个候选在某个阶段的探测失败
type ProbeError struct {
	Address string
	Stage   string // "latency", "throughput" 或 "location"
	Err     error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s probe for %s: %v", e.Stage, e.Address, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// WriteError 表示结果文件写入失败
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write '%s': %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsFatal 判断错误是否应当终止整个运行
func IsFatal(err error) bool {
	return errors.Is(err, ErrMissingData) || errors.Is(err, ErrWriteFailed)
}
