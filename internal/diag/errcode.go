package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"halo/pkg/contract"
)

// Code 为日志与指标使用的错误类别，与 CLI 退出码无关。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeContent   Code = "content"
	CodePage      Code = "page"
	CodeSession   Code = "session"
	CodeTransport Code = "transport"
)

// sentinelCodes 按顺序匹配，先命中者生效。
var sentinelCodes = []struct {
	code Code
	errs []error
}{
	{CodeCancel, []error{context.Canceled, context.DeadlineExceeded}},
	{CodeBudget, []error{contract.ErrBudgetExceeded, contract.ErrRateLimited}},
	{CodeProtocol, []error{contract.ErrResponseInvalid}},
	{CodeTransport, []error{contract.ErrTransport}},
	{CodeSession, []error{contract.ErrSessionCreation, contract.ErrGeneration, contract.ErrSessionClosed}},
	{CodePage, []error{contract.ErrIneligiblePage, contract.ErrNoActiveTab}},
	{CodeContent, []error{contract.ErrNoContent, contract.ErrNoActiveExtraction}},
	{CodeInvariant, []error{contract.ErrInvariantViolation, contract.ErrInvalidInput, contract.ErrPathInvalid}},
}

// Classify 依据错误链上的哨兵与错误类型归类，不看错误文本。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, sc := range sentinelCodes {
		for _, target := range sc.errs {
			if errors.Is(err, target) {
				return sc.code
			}
		}
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回当前 UTC 时间的 RFC3339 文本。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
