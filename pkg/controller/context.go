package controller

// ClientContext carries per-connection state across commands.
type ClientContext struct {
	ConnID   string
	Remote   string
	Commands int
}

func NewClientContext(connID, remote string) *ClientContext {
	return &ClientContext{
		ConnID: connID,
		Remote: remote,
	}
}
