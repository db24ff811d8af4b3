package echo

import "strconv"

// MaxReplySize bounds a reply message in bytes.
const MaxReplySize = 128

const ReplyPrefix = "Hello, World "

// AppendReply appends the reply owed for the count-th received chunk to dst.
// The result depends only on count.
func AppendReply(dst []byte, count uint32) []byte {
	start := len(dst)
	dst = append(dst, ReplyPrefix...)
	dst = strconv.AppendUint(dst, uint64(count), 10)
	if len(dst)-start > MaxReplySize {
		dst = dst[:start+MaxReplySize]
	}
	return dst
}

func FormatReply(count uint32) string {
	return string(AppendReply(make([]byte, 0, MaxReplySize), count))
}
