package metrics

// Label 指标标签，为指标添加维度。
//
// 标签值应当是低基数的：操作名、结果、任务名可以作为标签，
// 服务实例 ID、Agent 地址这类随部署变化的值不应作为标签。
type Label struct {
	Key   string
	Value string
}

// L 创建一个 Label
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
