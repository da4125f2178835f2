package engine

import (
	"Best_IP_Selector_Go/pkg/model"
	"sort"
	"sync"
)

// ResultSet 在并发 worker 之间收集合格候选，同一派发序号只会被记录一次
type ResultSet struct {
	mu    sync.Mutex
	items map[int]model.Outcome
}

func NewResultSet() *ResultSet {
	return &ResultSet{items: make(map[int]model.Outcome)}
}

// Add 记录一个合格候选。若该序号已存在则忽略并返回 false
func (s *ResultSet) Add(o model.Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[o.Seq]; exists {
		return false
	}
	s.items[o.Seq] = o
	return true
}

func (s *ResultSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Outcomes 返回当前所有记录的副本，顺序不确定
func (s *ResultSet) Outcomes() []model.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Outcome, 0, len(s.items))
	for _, o := range s.items {
		out = append(out, o)
	}
	return out
}

// Rank 按速度倒序排序，速度相同时按派发序号升序，然后截断到 topN（0 表示不截断）
func Rank(outcomes []model.Outcome, topN int) []model.Outcome {
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Throughput != outcomes[j].Throughput {
			return outcomes[i].Throughput > outcomes[j].Throughput
		}
		return outcomes[i].Seq < outcomes[j].Seq
	})
	if topN > 0 && len(outcomes) > topN {
		outcomes = outcomes[:topN]
	}
	return outcomes
}
