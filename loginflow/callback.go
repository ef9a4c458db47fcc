package loginflow

import (
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-account-manager/accounts"
)

// CallbackHandler completes a login from the authorization server's redirect and
// passes the outcome to onResult.
func (f *Flow) CallbackHandler(onResult func(*accounts.AuthResponse, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.FormValue("state")
		code := r.FormValue("code")

		if errorParam := r.FormValue("error"); errorParam != "" {
			err := fmt.Errorf("authorization failed: %s - %s", errorParam, r.FormValue("error_description"))
			// drop the pending login so it cannot be completed later
			f.lock.Lock()
			delete(f.pending, state)
			f.lock.Unlock()
			http.Error(w, err.Error(), http.StatusBadRequest)
			onResult(nil, err)
			return
		}

		if code == "" || state == "" {
			http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
			return
		}

		resp, err := f.Complete(r.Context(), state, code)
		if err != nil {
			http.Error(w, "Login failed", http.StatusBadRequest)
			onResult(nil, err)
			return
		}
		_, _ = w.Write([]byte("Login complete. You can close this window."))
		onResult(resp, nil)
	}
}
