package protocol

import "sync"

// MaxDataFrameSize is the largest possible server->client frame:
// header plus the largest legal Opus payload.
const MaxDataFrameSize = DataFrameHeaderLen + MaxFrameLen

// framePool recycles the fixed-size scratch buffers the data relay
// uses to read one inbound frame and stamp a sender id onto it,
// keeping the hot fan-out path allocation-light.
var framePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, MaxDataFrameSize)
		return &buf
	},
}

// GetFrameBuffer returns a scratch buffer of length MaxDataFrameSize
// from the pool.
func GetFrameBuffer() *[]byte {
	return framePool.Get().(*[]byte)
}

// PutFrameBuffer returns a scratch buffer to the pool.
func PutFrameBuffer(buf *[]byte) {
	if buf == nil {
		return
	}
	framePool.Put(buf)
}
