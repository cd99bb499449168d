package errs

var DefaultCodeRelation = NewCodeRelation()

// CodeRelation 错误码的父子关系，只在 init 阶段写入
type CodeRelation struct {
	children map[int]map[int]struct{}
}

func NewCodeRelation() *CodeRelation {
	return &CodeRelation{children: make(map[int]map[int]struct{})}
}

// Add 把 children 挂到 parent 下
func (r *CodeRelation) Add(parent int, children ...int) {
	s, ok := r.children[parent]
	if !ok {
		s = make(map[int]struct{}, len(children))
		r.children[parent] = s
	}
	for _, c := range children {
		s[c] = struct{}{}
	}
}

// Is 相同错误码也算
func (r *CodeRelation) Is(parent, child int) bool {
	if parent == child {
		return true
	}
	_, ok := r.children[parent][child]
	return ok
}
