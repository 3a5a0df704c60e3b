// Package adminctl implements the operator command-line companion: logging
// in against the admin HTTP surface, retrying stuck orders, and generating
// password hashes for the server config.
package adminctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/mamyekta/novabot/internal/server/auth"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// App talks to a running server's admin endpoints.
type App struct {
	baseURL string
	http    *http.Client
	out     io.Writer
}

func NewApp(baseURL string, out io.Writer) *App {
	return &App{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		out:     out,
	}
}

// Run dispatches a subcommand. Supported:
//
//	login                  prompt for the operator password, print a token
//	retry <token> <order>  re-run settlement for a stuck order
//	hash                   prompt for a password, print its bcrypt hash
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: adminctl <login|retry|hash>")
	}

	switch args[0] {
	case "login":
		return a.login(ctx)
	case "retry":
		if len(args) != 3 {
			return fmt.Errorf("usage: adminctl retry <token> <order-id>")
		}
		return a.retry(ctx, args[1], args[2])
	case "hash":
		return a.hash()
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *App) promptPassword() ([]byte, error) {
	fmt.Fprint(a.out, "Enter password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.out)
	return pw, err
}

func (a *App) login(ctx context.Context) error {
	password, err := a.promptPassword()
	if err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]string{"password": string(password)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/admin/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}

	fmt.Fprintln(a.out, out.Token)
	return nil
}

func (a *App) retry(ctx context.Context, token, orderID string) error {
	url := fmt.Sprintf("%s/admin/orders/%s/retry", a.baseURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("retry failed: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	fmt.Fprintf(a.out, "order %s settled\n", orderID)
	return nil
}

func (a *App) hash() error {
	password, err := a.promptPassword()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(string(password))
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, hash)
	return nil
}
