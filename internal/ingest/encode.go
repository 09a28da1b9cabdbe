package ingest

import (
	"encoding/base64"
	"encoding/binary"
	"strconv"
)

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func int64ToBigEndian(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
