package server

import "github.com/downfa11-org/kvs/util"

// CompressMessage gzips a frame body when enabled
func CompressMessage(msg []byte, enable bool) ([]byte, error) {
	if !enable {
		return msg, nil
	}
	return util.CompressMessage(msg, "gzip")
}

// DecompressMessage reverses CompressMessage
func DecompressMessage(msg []byte, enable bool) ([]byte, error) {
	if !enable {
		return msg, nil
	}
	return util.DecompressMessage(msg, "gzip")
}
