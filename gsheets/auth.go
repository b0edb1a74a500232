package gsheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sheetsync/sheetsync/logging"
)

var ErrNotAuthorised = errors.New("not authorised")

// TokenFile returns the path of the cached OAuth2 token for a credentials file, e.g.
// workdir/credentials.sheets.
func TokenFile(workdir, credentials string) string {
	_, file := filepath.Split(credentials)
	name := strings.TrimSuffix(file, filepath.Ext(file))

	return filepath.Join(workdir, fmt.Sprintf("%s.sheets", name))
}

// Authorize returns an HTTP client for the Google APIs. Service account credentials are used
// directly; installed application credentials need a token previously saved by Authorise.
func Authorize(ctx context.Context, credentials, tokens string, scopes ...string) (*http.Client, error) {
	b, err := os.ReadFile(credentials)
	if err != nil {
		return nil, err
	}

	if isServiceAccount(b) {
		config, err := google.JWTConfigFromJSON(b, scopes...)
		if err != nil {
			return nil, err
		}

		return config.Client(ctx), nil
	}

	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, err
	}

	token, err := tokenFromFile(tokens)
	if err != nil {
		return nil, fmt.Errorf("%w - no valid token in %v (%v)", ErrNotAuthorised, tokens, err)
	}

	return config.Client(ctx, token), nil
}

// Authorise runs the installed application OAuth2 flow: it prints the consent URL to out, waits
// for the redirect on a loopback listener and saves the token to the tokens file.
func Authorise(ctx context.Context, credentials, tokens string, out io.Writer, scopes ...string) error {
	b, err := os.ReadFile(credentials)
	if err != nil {
		return err
	}

	if isServiceAccount(b) {
		return fmt.Errorf("%v is a service account key and does not need authorising", credentials)
	}

	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}

	config.RedirectURL = fmt.Sprintf("http://%v/", listener.Addr())

	state := "state-token"
	authorised := make(chan string, 1)
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, rq *http.Request) {
		code := rq.FormValue("code")
		if rq.FormValue("state") != state || code == "" {
			http.Error(w, "invalid authorisation response", http.StatusBadRequest)
			return
		}

		fmt.Fprintln(w, "sheetsync authorised - you can close this window")

		select {
		case authorised <- code:
		default:
		}
	})

	srv := &http.Server{
		Handler: mux,
	}

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Warnf("authorisation listener (%v)", err)
		}
	}()

	defer srv.Shutdown(context.Background())

	fmt.Fprintf(out, "Open the following link in your browser to authorise sheetsync:\n\n  %v\n\n", config.AuthCodeURL(state, oauth2.AccessTypeOffline))

	select {
	case <-ctx.Done():
		return ctx.Err()

	case code := <-authorised:
		token, err := config.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("unable to retrieve token (%v)", err)
		}

		return saveToken(tokens, token)
	}
}

func isServiceAccount(credentials []byte) bool {
	var key struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(credentials, &key); err != nil {
		return false
	}

	return key.Type == "service_account"
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	token := oauth2.Token{}
	if err := json.NewDecoder(f).Decode(&token); err != nil {
		return nil, err
	}

	return &token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token (%v)", err)
	}

	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return err
	}

	logging.Infof("saved OAuth token to %v", path)

	return nil
}
