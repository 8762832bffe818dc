package session

import (
	"bytes"
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ginsessions "github.com/gin-contrib/sessions"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
)

// セッション値に置く制御用キー。保存時に取り除かれ、永続化されません。
const (
	regenerateKey = "_regenerate"
	destroyKey    = "_destroy"
)

const defaultWriteTimeout = 5 * time.Second

// ServerStoreOptions は ServerStore の設定です。
type ServerStoreOptions struct {
	Secret []byte        // セッションIDクッキーの署名鍵
	MaxAge time.Duration // レコードとクッキーの有効期間
	Secure bool          // 本番環境では true
}

// ServerStore はクッキーに署名付きのセッションIDだけを置き、値を Store に保存する
// gorilla/sessions 互換のストアです。gin-contrib/sessions の Store としても使えます。
type ServerStore struct {
	store        Store
	codecs       []securecookie.Codec
	options      *gsessions.Options
	writeTimeout time.Duration
	now          func() time.Time
}

var _ ginsessions.Store = (*ServerStore)(nil)

// NewServerStore は ServerStore を作成します。
func NewServerStore(store Store, opts ServerStoreOptions) (*ServerStore, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if opts.MaxAge <= 0 {
		return nil, errors.New("session max age must be positive")
	}

	s := &ServerStore{
		store:  store,
		codecs: securecookie.CodecsFromPairs(opts.Secret),
		options: &gsessions.Options{
			Path:     "/",
			MaxAge:   int(opts.MaxAge.Seconds()),
			HttpOnly: true,
			Secure:   opts.Secure,
			SameSite: http.SameSiteStrictMode,
		},
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
	}
	s.syncCodecMaxAge()
	return s, nil
}

// Backend は値の保存先の Store を返します。
func (s *ServerStore) Backend() Store {
	return s.store
}

// Options は gin-contrib/sessions から既定のクッキー属性を設定するためのメソッドです。
func (s *ServerStore) Options(options ginsessions.Options) {
	s.options = options.ToGorillaOptions()
	s.syncCodecMaxAge()
}

// Get はリクエスト単位のレジストリにキャッシュされたセッションを返します。
func (s *ServerStore) Get(r *http.Request, name string) (*gsessions.Session, error) {
	return gsessions.GetRegistry(r).Get(s, name)
}

// New はクッキーからセッションを復元します。
// クッキーが無い・改ざんされている・レコードが期限切れの場合は新しい空のセッションを返します。
// エラーを返すのは Store 自体の障害時のみです。
func (s *ServerStore) New(r *http.Request, name string) (*gsessions.Session, error) {
	session := gsessions.NewSession(s, name)
	opts := *s.options
	session.Options = &opts
	session.IsNew = true

	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return session, nil
	}

	var id string
	if err := securecookie.DecodeMulti(name, cookie.Value, &id, s.codecs...); err != nil {
		return session, nil
	}

	record, err := s.store.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return session, nil
		}
		return session, fmt.Errorf("load session: %w", err)
	}

	values, err := decodeValues(record.Data)
	if err != nil {
		// 壊れたペイロードは新規セッション扱い
		return session, nil
	}
	session.ID = record.ID
	session.Values = values
	session.IsNew = false
	return session, nil
}

// Save はセッションを保存し、現在のセッションIDを指すクッキーを書き込みます。
//
// MaxAge が負、または Destroy 済みのセッションはレコードを削除してクッキーを失効させます。
// Regenerate 済みのセッションは旧レコードを削除して新しいIDで保存します。
// 読み込み済みのセッションは既存レコードの更新のみで、削除済みのレコードを再作成しません。
// 書き込みはクライアント切断の影響を受けないよう、リクエストのキャンセルから切り離して行います。
func (s *ServerStore) Save(r *http.Request, w http.ResponseWriter, session *gsessions.Session) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.writeTimeout)
	defer cancel()

	if session.Options == nil {
		opts := *s.options
		session.Options = &opts
	}

	if _, destroy := session.Values[destroyKey]; destroy || session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.store.Destroy(ctx, session.ID); err != nil {
				return fmt.Errorf("destroy session: %w", err)
			}
		}
		session.ID = ""
		session.Values = make(map[interface{}]interface{})
		opts := *session.Options
		opts.MaxAge = -1
		setCookie(w, gsessions.NewCookie(session.Name(), "", &opts))
		return nil
	}

	if _, regenerate := session.Values[regenerateKey]; regenerate {
		delete(session.Values, regenerateKey)
		if session.ID != "" {
			if err := s.store.Destroy(ctx, session.ID); err != nil {
				return fmt.Errorf("destroy session: %w", err)
			}
		}
		session.ID = ""
	}

	if session.ID == "" {
		session.ID = newSessionID()
		session.IsNew = true
	}

	if err := s.persist(ctx, session); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	setCookie(w, gsessions.NewCookie(session.Name(), encoded, session.Options))
	session.IsNew = false
	return nil
}

// persist は新規セッションを作成し、読み込んだセッションは既存レコードの更新だけを行います。
// 読み込み後に別のリクエストで破棄されたセッションは復活させず、値を捨てて新しい匿名セッションにします。
func (s *ServerStore) persist(ctx context.Context, session *gsessions.Session) error {
	record, err := s.newRecord(session)
	if err != nil {
		return err
	}
	if session.IsNew {
		if err := s.store.Save(ctx, record); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	}

	err = s.store.Update(ctx, record)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("update session: %w", err)
	}

	session.ID = newSessionID()
	session.Values = make(map[interface{}]interface{})
	session.IsNew = true
	if record, err = s.newRecord(session); err != nil {
		return err
	}
	if err := s.store.Save(ctx, record); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *ServerStore) newRecord(session *gsessions.Session) (*Record, error) {
	data, err := encodeValues(session.Values)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	now := s.now().UTC()
	return &Record{
		ID:             session.ID,
		Data:           data,
		ExpiresAt:      now.Add(time.Duration(session.Options.MaxAge) * time.Second),
		LastAccessedAt: now,
	}, nil
}

func (s *ServerStore) syncCodecMaxAge() {
	for _, codec := range s.codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(s.options.MaxAge)
		}
	}
}

// setCookie は同名の Set-Cookie ヘッダーを置き換えます。
// 1リクエスト中に複数回保存しても、クライアントには最後のセッションIDだけが届きます。
func setCookie(w http.ResponseWriter, cookie *http.Cookie) {
	header := w.Header()
	prefix := cookie.Name + "="
	var kept []string
	for _, v := range header.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	header.Del("Set-Cookie")
	for _, v := range kept {
		header.Add("Set-Cookie", v)
	}
	http.SetCookie(w, cookie)
}

func newSessionID() string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
}

func encodeValues(values map[interface{}]interface{}) ([]byte, error) {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		key, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("non-string session key %v", k)
		}
		out[key] = v
	}
	return json.Marshal(out)
}

func decodeValues(data []byte) (map[interface{}]interface{}, error) {
	values := make(map[interface{}]interface{})
	if len(data) == 0 {
		return values, nil
	}
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	for k, v := range raw {
		values[k] = v
	}
	return values, nil
}
