package lifecycle

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPartialContentType 在缓存条目缺少 Content-Type 时使用。
const DefaultPartialContentType = "audio/mpeg"

var rangePattern = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

// ByteRange 是解析后的 Range 头，起止位置均可缺省。
type ByteRange struct {
	Start    int64
	End      int64
	HasStart bool
	HasEnd   bool
}

// ParseRange 解析 `bytes=<start>-<end>`；不匹配或数值溢出时返回 false，调用方按无 Range 处理。
func ParseRange(header string) (ByteRange, bool) {
	m := rangePattern.FindStringSubmatch(header)
	if m == nil {
		return ByteRange{}, false
	}
	var r ByteRange
	if m[1] != "" {
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return ByteRange{}, false
		}
		r.Start, r.HasStart = v, true
	}
	if m[2] != "" {
		v, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return ByteRange{}, false
		}
		r.End, r.HasEnd = v, true
	}
	return r, true
}

// Resolve 计算针对 total 字节的闭区间 [start, end]。
// end 会被截断到 total-1；截断后 start > end 时 ok 为 false，表示空切片。
func (r ByteRange) Resolve(total int64) (start, end int64, ok bool) {
	if r.HasStart {
		start = r.Start
	}
	end = total - 1
	if r.HasEnd && r.End < end {
		end = r.End
	}
	if start > end {
		return start, end, false
	}
	return start, end, true
}

// SynthesizePartial 从完整缓冲的正文切出请求区间并构造 206 响应。
func SynthesizePartial(body []byte, contentType string, r ByteRange) *Response {
	if strings.TrimSpace(contentType) == "" {
		contentType = DefaultPartialContentType
	}
	total := int64(len(body))
	header := http.Header{}
	header.Set("Content-Type", contentType)

	start, end, ok := r.Resolve(total)
	var slice []byte
	if ok {
		slice = body[start : end+1]
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	} else {
		slice = []byte{}
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
	}
	header.Set("Content-Length", strconv.Itoa(len(slice)))

	return &Response{
		Status:   http.StatusPartialContent,
		Header:   header,
		Body:     slice,
		Source:   SourceSynthesized,
		Strategy: StrategyRange,
	}
}
