// Package graph 运行期就绪判定
package graph

import (
	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
)

// View 某条流水线当前图状态的只读快照
//
// 由引擎在每个 tick 开始时从数据库整体加载一次，
// tick 内的所有判定基于同一快照。
type View struct {
	Elements  []*model.PipeElement
	satisfied map[string]bool              // resultID -> 是否就绪
	incoming  map[string][]*model.ResultLink // elementID -> 入边
	outgoing  map[string][]*model.ResultLink // elementID -> 出边
}

// NewView 构建图快照
func NewView(elements []*model.PipeElement, results []*model.Result, links []*model.ResultLink) *View {
	v := &View{
		Elements:  elements,
		satisfied: make(map[string]bool, len(results)),
		incoming:  make(map[string][]*model.ResultLink),
		outgoing:  make(map[string][]*model.ResultLink),
	}
	for _, r := range results {
		v.satisfied[r.ID] = r.Satisfied
	}
	for _, l := range links {
		v.outgoing[l.PeN] = append(v.outgoing[l.PeN], l)
		if l.PeOut != nil {
			v.incoming[*l.PeOut] = append(v.incoming[*l.PeOut], l)
		}
	}
	return v
}

// Ready 判断节点的上游结果是否全部就绪
//
// 没有入边即默认就绪（源节点）。
func (v *View) Ready(elementID string) bool {
	for _, l := range v.incoming[elementID] {
		if !v.satisfied[l.ResultID] {
			return false
		}
	}
	return true
}

// OutResults 返回节点产出的全部结果 ID
func (v *View) OutResults(elementID string) []string {
	links := v.outgoing[elementID]
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.ResultID)
	}
	return ids
}

// RemoveElement 从快照中移除一个节点
//
// 节点仍向未就绪的下游消费边供给结果时不可移除，返回 ErrConflict，
// 防止留下等不到上游的悬空消费者。
func (v *View) RemoveElement(elementID string) error {
	for _, l := range v.outgoing[elementID] {
		if l.PeOut != nil && !v.satisfied[l.ResultID] {
			return apperr.Conflictf("element %s still feeds unsatisfied result %s", elementID, l.ResultID)
		}
	}
	for i, e := range v.Elements {
		if e.ID == elementID {
			v.Elements = append(v.Elements[:i], v.Elements[i+1:]...)
			break
		}
	}
	delete(v.outgoing, elementID)
	delete(v.incoming, elementID)
	return nil
}

// AllFinished 判断所有节点是否都已完成
func (v *View) AllFinished() bool {
	for _, e := range v.Elements {
		if e.State != model.ElementStateFinished {
			return false
		}
	}
	return true
}
