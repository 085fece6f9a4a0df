package errs

// 中继层错误码表
// 1xxx 连接/房间，2xxx 呼叫信令，3xxx 存储
var (
	ErrNotRegistered      = NewCodeError(1002, "connection not registered")
	ErrNotAMember         = NewCodeError(1001, "sender is not a member of the room")
	ErrCalleeUnreachable  = NewCodeError(2001, "callee has no active connection")
	ErrBusy               = NewCodeError(2002, "callee already in a call")
	ErrStaleSignaling     = NewCodeError(2003, "signaling for a finished call")
	ErrPersistenceFailure = NewCodeError(3001, "message persistence failed")
)
