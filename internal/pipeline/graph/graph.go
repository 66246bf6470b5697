// Package graph 流水线 DAG 的构建期校验与物化
//
// DAG 只在创建时构建和校验一次：引用完整、类型合法、无环。
// 通过校验的图整体物化为 PipeElement / Result / ResultLink 行；
// 运行期只做就绪判定（见 View），不再做环检测。
package graph

import (
	"encoding/json"

	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
)

// Def 流水线定义（创建请求的载荷）
type Def struct {
	Name     string       `json:"name"`
	Elements []ElementDef `json:"elements"`
}

// ElementDef 单个节点的定义
//
// Ref 是定义内的引用名，物化后被数据库 ID 取代。
// Outputs 列出下游节点的 Ref；为空表示该节点是分支终端。
type ElementDef struct {
	Ref     string            `json:"ref"`
	Type    model.ElementType `json:"type"`
	Spec    json.RawMessage   `json:"spec,omitempty"`
	Outputs []string          `json:"outputs,omitempty"`
}

// validTypes 节点变体封闭集合
var validTypes = map[model.ElementType]bool{
	model.ElementTypeScript:     true,
	model.ElementTypeAnnoTask:   true,
	model.ElementTypeDataExport: true,
}

// Validate 校验流水线定义
//
// 检查项：非空、引用名唯一、变体合法、出边目标存在、无环。
// 所有失败都归类为 apperr.ErrInvalidGraph。
func Validate(def *Def) error {
	if len(def.Elements) == 0 {
		return apperr.InvalidGraphf("pipe has no elements")
	}

	byRef := make(map[string]*ElementDef, len(def.Elements))
	for i := range def.Elements {
		e := &def.Elements[i]
		if e.Ref == "" {
			return apperr.InvalidGraphf("element %d has empty ref", i)
		}
		if _, dup := byRef[e.Ref]; dup {
			return apperr.InvalidGraphf("duplicate element ref %q", e.Ref)
		}
		if !validTypes[e.Type] {
			return apperr.InvalidGraphf("element %q has unknown type %q", e.Ref, e.Type)
		}
		byRef[e.Ref] = e
	}

	for _, e := range def.Elements {
		for _, out := range e.Outputs {
			if _, ok := byRef[out]; !ok {
				return apperr.InvalidGraphf("element %q links to unknown element %q", e.Ref, out)
			}
			if out == e.Ref {
				return apperr.InvalidGraphf("element %q links to itself", e.Ref)
			}
		}
	}

	return detectCycles(def, byRef)
}

// detectCycles 三色 DFS 环检测
func detectCycles(def *Def, byRef map[string]*ElementDef) error {
	const (
		white = 0 // 未访问
		gray  = 1 // 访问中（在当前 DFS 栈上）
		black = 2 // 已完成
	)
	colors := make(map[string]int, len(def.Elements))

	var visit func(ref string) error
	visit = func(ref string) error {
		switch colors[ref] {
		case gray:
			return apperr.InvalidGraphf("cycle detected at element %q", ref)
		case black:
			return nil
		}
		colors[ref] = gray
		for _, out := range byRef[ref].Outputs {
			if err := visit(out); err != nil {
				return err
			}
		}
		colors[ref] = black
		return nil
	}

	for _, e := range def.Elements {
		if err := visit(e.Ref); err != nil {
			return err
		}
	}
	return nil
}

// Materialized 物化结果：待落库的全部行
type Materialized struct {
	Elements []*model.PipeElement
	Results  []*model.Result
	Links    []*model.ResultLink
	// RefToID 引用名到数据库 ID 的映射（创建 AnnoTask 行时使用）
	RefToID map[string]string
}

// IDGen 行 ID 生成函数（注入便于测试）
type IDGen func(prefix string) string

// Materialize 把通过校验的定义物化为数据库行
//
// 每条出边一个 Result + ResultLink；没有出边的节点得到一条
// PeOut 为 nil 的终端边，使产出语义对所有节点一致。
func Materialize(def *Def, pipeID string, gen IDGen) *Materialized {
	m := &Materialized{RefToID: make(map[string]string, len(def.Elements))}

	for i := range def.Elements {
		e := &def.Elements[i]
		id := gen("pe")
		m.RefToID[e.Ref] = id
		m.Elements = append(m.Elements, &model.PipeElement{
			ID:     id,
			PipeID: pipeID,
			Type:   e.Type,
			State:  model.ElementStatePending,
			Spec:   e.Spec,
		})
	}

	for i := range def.Elements {
		e := &def.Elements[i]
		peN := m.RefToID[e.Ref]
		if len(e.Outputs) == 0 {
			r := &model.Result{ID: gen("res"), PipeID: pipeID}
			m.Results = append(m.Results, r)
			m.Links = append(m.Links, &model.ResultLink{
				ID: gen("link"), PipeID: pipeID, ResultID: r.ID, PeN: peN,
			})
			continue
		}
		for _, out := range e.Outputs {
			peOut := m.RefToID[out]
			r := &model.Result{ID: gen("res"), PipeID: pipeID}
			m.Results = append(m.Results, r)
			m.Links = append(m.Links, &model.ResultLink{
				ID: gen("link"), PipeID: pipeID, ResultID: r.ID, PeN: peN, PeOut: &peOut,
			})
		}
	}
	return m
}
