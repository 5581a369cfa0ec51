package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/samber/lo"

	"github.com/launchpad/chat-gateway/internal/auth"
	"github.com/launchpad/chat-gateway/internal/loadtest"
	"github.com/launchpad/chat-gateway/internal/membership"
)

const tokenTTL = time.Hour

func userID(i int) string {
	return fmt.Sprintf("load-%d", i)
}

// target holds the flags shared by the traffic commands.
type target struct {
	url         *string
	secret      *string
	issuer      *string
	concurrency *int
}

func targetFlags(fs *flag.FlagSet) target {
	return target{
		url:         fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL"),
		secret:      fs.String("secret", os.Getenv("JWT_SECRET"), "HS256 secret used to mint tokens (default $JWT_SECRET)"),
		issuer:      fs.String("issuer", os.Getenv("JWT_ISSUER"), "Token issuer claim (default $JWT_ISSUER)"),
		concurrency: fs.Int("concurrency", 50, "Maximum simultaneous connection attempts"),
	}
}

// minter returns the token issuer, exiting when no secret is configured.
func (t target) minter() *auth.Verifier {
	if *t.secret == "" {
		fmt.Fprintln(os.Stderr, "a token secret is required: pass -secret or set JWT_SECRET")
		os.Exit(1)
	}
	return auth.NewVerifier(*t.secret, *t.issuer)
}

// connect dials url and authenticates as user i.
func connect(ctx context.Context, url string, issuer *auth.Verifier, i int) (*loadtest.Client, error) {
	token, err := issuer.Issue(userID(i), tokenTTL)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := loadtest.Dial(connCtx, url)
	if err != nil {
		return nil, err
	}
	if err := c.Auth(connCtx, token); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	users := fs.Int("users", 1000, "Number of synthetic users")
	groupSize := fs.Int("group-size", 0, "Put users into groups of this size (0 = no groups)")
	fs.Parse(args)

	ids := lo.Times(*users, userID)
	seed := membership.Seed{Users: ids}
	if *groupSize > 1 {
		for n, chunk := range lo.Chunk(ids, *groupSize) {
			seed.Groups = append(seed.Groups, membership.SeedGroup{
				ID:      fmt.Sprintf("load-group-%d", n),
				Owner:   chunk[0],
				Members: chunk[1:],
			})
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(seed); err != nil {
		fmt.Fprintf(os.Stderr, "encode seed: %v\n", err)
		os.Exit(1)
	}
}
