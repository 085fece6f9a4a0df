package relay

import (
	"sync"

	"socialgw/logger"
	"socialgw/tools/safe"
)

type fanoutJob struct {
	conns   []*Client
	payload []byte
}

// Fanout 广播工作池：大扇出（全节点在线状态广播）不占用读循环
type Fanout struct {
	jobs      chan fanoutJob
	closeOnce sync.Once
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		safe.Go("fanout-worker", f.loop)
	}
	return f
}

func (f *Fanout) loop() {
	for job := range f.jobs {
		for _, c := range job.conns {
			c.Push(job.payload)
		}
	}
}

// Broadcast 非阻塞提交；池满丢弃整批并记日志
func (f *Fanout) Broadcast(conns []*Client, payload []byte) {
	if len(conns) == 0 || payload == nil {
		return
	}
	select {
	case f.jobs <- fanoutJob{conns: conns, payload: payload}:
	default:
		logger.Warnf("[fanout] queue full, drop broadcast to %d conns", len(conns))
	}
}

func (f *Fanout) Close() {
	f.closeOnce.Do(func() { close(f.jobs) })
}
