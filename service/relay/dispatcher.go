package relay

import (
	"fmt"
)

// Handler 一类入站帧的处理器
type Handler interface {
	Type() string
	Handle(s *Server, c *Client, f *Frame) error
}

// Dispatcher 按帧类型分发；注册只发生在启动期，运行期只读
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) {
	d.handlers[h.Type()] = h
}

func (d *Dispatcher) Dispatch(s *Server, c *Client, f *Frame) error {
	h, ok := d.handlers[f.Type]
	if !ok {
		return fmt.Errorf("no handler for frame type %q", f.Type)
	}
	return h.Handle(s, c, f)
}
