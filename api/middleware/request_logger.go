package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/vova616/xxhash"
)

// requestFields accumulates the structured fields of an access log entry.
type requestFields struct {
	fields []interface{}
}

func newRequestFields() *requestFields {
	return &requestFields{}
}

func (r *requestFields) add(key string, value interface{}) *requestFields {
	r.fields = append(r.fields, key, value)
	return r
}

func (r *requestFields) method(method string) *requestFields {
	return r.add("method", method)
}

// path records the request path with empty segments collapsed.
func (r *requestFields) path(request string) *requestFields {
	url := strings.SplitN(request, "?", 2)[0]
	segments := []string{}
	for _, segment := range strings.Split(url, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return r.add("path", "/"+strings.Join(segments, "/"))
}

// params records a hash of the query string so that input values stay out of the logs.
func (r *requestFields) params(request string) *requestFields {
	split := strings.SplitN(request, "?", 2)
	if len(split) < 2 || split[1] == "" {
		return r
	}
	return r.add("params", fmt.Sprintf("%#x", xxhash.Checksum32([]byte(split[1]))))
}

func (r *requestFields) requestID(id string) *requestFields {
	if id == "" {
		return r
	}
	return r.add("request_id", id)
}

func (r *requestFields) status(status int) *requestFields {
	return r.add("status", status)
}

func (r *requestFields) duration(duration time.Duration) *requestFields {
	return r.add("duration_ms", fmt.Sprintf("%.2f", duration.Seconds()*1000))
}

func (r *requestFields) render() []interface{} {
	return r.fields
}
