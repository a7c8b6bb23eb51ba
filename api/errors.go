package api

import (
	"errors"
	"fmt"
)

// ErrNotImplemented 驱动未实现该能力（契约默认值）。
var ErrNotImplemented = errors.New("not implemented")

// VenueError 交易所返回的错误。Status 为 HTTP 状态码或等价分类；
// 429/502/503 属于瞬时错误，可以重试，其余一律视为终态。
type VenueError struct {
	Venue  string
	Status int
	Body   string
}

func (e *VenueError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Venue, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Venue, e.Status)
}

// Transient 判断该错误是否值得重试。
func (e *VenueError) Transient() bool {
	switch e.Status {
	case 429, 502, 503:
		return true
	}
	return false
}

// IsTransient 判断任意错误是否属于瞬时交易所错误。
func IsTransient(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve) && ve.Transient()
}
