package session

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
)

const (
	keyUserID     = "user_id"
	keyLastAccess = "last_access"
)

// SetUserID はセッションに認証済みユーザーIDを設定します。
func SetUserID(s sessions.Session, userID int64) {
	s.Set(keyUserID, userID)
}

// UserID はセッションに設定された認証済みユーザーIDを返します。
func UserID(s sessions.Session) (int64, bool) {
	return readInt64(s.Get(keyUserID))
}

// ClearUserID はセッションから認証済みユーザーIDを外します。
func ClearUserID(s sessions.Session) {
	s.Delete(keyUserID)
}

// Touch は最終アクセス時刻を更新します。保存時にレコードの有効期限も延長されます。
func Touch(s sessions.Session, now time.Time) {
	s.Set(keyLastAccess, now.Unix())
}

// LastAccess は最終アクセス時刻を返します。
func LastAccess(s sessions.Session) time.Time {
	unix, ok := readInt64(s.Get(keyLastAccess))
	if !ok {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// Regenerate は次回保存時にセッションIDを振り直すよう指示します。
// 値は新しいIDへ引き継がれ、旧IDのレコードは削除されます。
func Regenerate(s sessions.Session) {
	s.Set(regenerateKey, true)
}

// Destroy は次回保存時にセッションレコードを削除し、クッキーを失効させるよう指示します。
func Destroy(s sessions.Session) {
	s.Clear()
	s.Set(destroyKey, true)
}

func readInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
