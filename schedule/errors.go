package schedule

import "github.com/ceyewan/consul-registry/xerrors"

var (
	// ErrInvalidPeriod 周期必须为正，初始延迟不能为负
	ErrInvalidPeriod = xerrors.New("schedule: invalid period")

	// ErrNilWork 任务函数为空
	ErrNilWork = xerrors.New("schedule: work is nil")

	// ErrManagerClosed 管理器已关闭
	ErrManagerClosed = xerrors.New("schedule: manager closed")
)
