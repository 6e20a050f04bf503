package http

import (
	"net/http"

	"github.com/gorilla/sessions"
)

const flashSession = "payment_flash"

// Flash is the one-shot message shown on the plan page after a gateway return.
type Flash struct {
	Kind      string `json:"kind"` // success|pending|error
	Message   string `json:"message"`
	PaymentID string `json:"payment_id,omitempty"`
}

// flashes wraps a signed cookie store. The plan page reads the flash back
// through GET /payments/flash.
type flashes struct {
	store *sessions.CookieStore
}

func newFlashes(key []byte, secure bool) *flashes {
	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &flashes{store: store}
}

func (f *flashes) set(w http.ResponseWriter, r *http.Request, fl Flash) error {
	// A tampered or stale cookie yields a fresh session alongside the error.
	sess, _ := f.store.Get(r, flashSession)
	for _, k := range []string{"kind", "message", "payment_id"} {
		sess.Flashes(k) // drop an unread flash from an earlier return
	}
	sess.AddFlash(fl.Kind, "kind")
	sess.AddFlash(fl.Message, "message")
	if fl.PaymentID != "" {
		sess.AddFlash(fl.PaymentID, "payment_id")
	}
	return sess.Save(r, w)
}

// read pops the pending flash, if any.
func (f *flashes) read(w http.ResponseWriter, r *http.Request) (*Flash, error) {
	sess, err := f.store.Get(r, flashSession)
	if err != nil {
		return nil, err
	}
	kinds := sess.Flashes("kind")
	if len(kinds) == 0 {
		return nil, nil
	}
	fl := &Flash{Kind: first(kinds), Message: first(sess.Flashes("message")), PaymentID: first(sess.Flashes("payment_id"))}
	return fl, sess.Save(r, w)
}

func first(vs []interface{}) string {
	if len(vs) == 0 {
		return ""
	}
	s, _ := vs[0].(string)
	return s
}
