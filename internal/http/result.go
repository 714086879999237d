package httpapi

// Result 随访 API 的响应信封；registro-ctl 按 Code 判断成功，失败时读取 Message
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1

	typeSuccess = "success"
	typeError   = "error"
)

// Ok 成功响应
func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: typeSuccess, Message: "ok", Result: result}
}

// Fail 失败响应，result 恒为 null
func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: typeError, Message: message}
}
