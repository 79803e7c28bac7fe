package registry

import "slices"

// NotifyListener 订阅回调。每次订阅检查都会收到完整的端点列表，
// 同一列表可能被重复投递，实现需要幂等。
//
// 监听器以接口值的相等性识别，实现应为指针等可比较类型。
type NotifyListener interface {
	Notify(query *Endpoint, endpoints []*Endpoint)
}

type funcListener struct {
	fn func(query *Endpoint, endpoints []*Endpoint)
}

func (l *funcListener) Notify(query *Endpoint, endpoints []*Endpoint) {
	l.fn(query, endpoints)
}

// NewListener 用函数创建监听器，每次调用返回不同的监听器
func NewListener(fn func(query *Endpoint, endpoints []*Endpoint)) NotifyListener {
	return &funcListener{fn: fn}
}

// subscription 一个订阅端点及其监听器集合
type subscription struct {
	query     *Endpoint
	listeners []NotifyListener
}

func (s *subscription) add(l NotifyListener) bool {
	if slices.Contains(s.listeners, l) {
		return false
	}
	s.listeners = append(s.listeners, l)
	return true
}

func (s *subscription) remove(l NotifyListener) {
	s.listeners = slices.DeleteFunc(s.listeners, func(x NotifyListener) bool { return x == l })
}
