package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/store"
	"golang.org/x/term"
)

const credentialsKey = "current"

var errNotLoggedIn = errors.New("not logged in, run examctl login first")

// credentials is the cached login, one per local store.
type credentials struct {
	Key     string    `json:"key"`
	APIURL  string    `json:"api_url"`
	Token   string    `json:"token"`
	UserID  int       `json:"user_id"`
	NISN    string    `json:"nisn"`
	Name    string    `json:"name"`
	SavedAt time.Time `json:"saved_at"`
}

func credentialsTable(s store.Store) *store.Table[credentials] {
	return store.NewTable(s, config.CacheKey.AuthTable(), func(c credentials) string { return c.Key }, nil)
}

// authenticate loads the cached login into the API client.
func (e *env) authenticate(ctx context.Context) (*credentials, error) {
	rows, err := credentialsTable(e.store).All(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range rows {
		if c.Key == credentialsKey && c.Token != "" {
			if c.APIURL != e.v.GetString("api-url") {
				return nil, fmt.Errorf("logged in against %s, run examctl login again", c.APIURL)
			}
			e.api.SetToken(c.Token)
			return &c, nil
		}
	}
	return nil, errNotLoggedIn
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and cache the token locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			nisn := e.v.GetString("nisn")
			if nisn == "" {
				if nisn, err = prompt(cmd, "NISN: "); err != nil {
					return err
				}
			}
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			res, err := e.api.Login(ctx, nisn, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			err = credentialsTable(e.store).UpsertAll(ctx, credentials{
				Key:     credentialsKey,
				APIURL:  e.v.GetString("api-url"),
				Token:   res.Token,
				UserID:  res.Student.ID,
				NISN:    res.Student.NISN,
				Name:    res.Student.Name,
				SavedAt: time.Now(),
			})
			if err != nil {
				return fmt.Errorf("cache token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s).\n", res.Student.Name, res.Student.NISN)
			return nil
		},
	}
	cmd.Flags().String("nisn", "", "Student NISN (prompted when empty)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the login and forget the cached token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.authenticate(ctx); err != nil {
				return err
			}
			if err := e.api.Logout(ctx); err != nil {
				e.log.Warn().Err(err).Msg("Server logout failed, forgetting the token anyway")
			}
			return credentialsTable(e.store).Delete(ctx, credentialsKey)
		},
	}
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo on a terminal and falls back to a plain
// line for piped input. EXAMCTL_PASSWORD wins over both.
func readPassword(cmd *cobra.Command) (string, error) {
	if pw := os.Getenv("EXAMCTL_PASSWORD"); pw != "" {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(cmd, "Password: ")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
