package relay

// Status 消息投递状态，只允许单向推进 sent -> delivered -> read
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// StatusRank 状态序号；比较用，越大越"晚"
func StatusRank(s Status) int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

func (s Status) Valid() bool { return StatusRank(s) >= 0 }
