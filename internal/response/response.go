// Package response は API の統一レスポンス形式（エンベロープ）を提供します。
package response

// クライアントに返す固定メッセージ
const (
	MessageValidationError    = "Validation error"
	MessageInternalError      = "Internal server error"
	MessageUserExists         = "User already exists"
	MessageInvalidCredentials = "Invalid email or password"
	MessageUnauthorized       = "Unauthorized access"
	MessageLoginSuccessful    = "Login successful"
	MessageLogoutSuccessful   = "Logout successful"
)

// SuccessBody は成功レスポンスです。
type SuccessBody struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

// ErrorBody は失敗レスポンスです。
type ErrorBody struct {
	Success bool      `json:"success"`
	Error   ErrorInfo `json:"error"`
	Message string    `json:"message"`
}

// ErrorInfo は失敗の詳細を保持します。
type ErrorInfo struct {
	Details []Detail `json:"details"`
}

// Detail は入力検証エラー1件分です。Path は JSON 上のフィールドの位置です。
type Detail struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// Success は成功レスポンスを作成します。
func Success(message string, data any) SuccessBody {
	return SuccessBody{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// Failure は失敗レスポンスを作成します。details が無い場合も空配列として出力されます。
func Failure(message string, details ...Detail) ErrorBody {
	if details == nil {
		details = []Detail{}
	}
	return ErrorBody{
		Success: false,
		Error:   ErrorInfo{Details: details},
		Message: message,
	}
}
