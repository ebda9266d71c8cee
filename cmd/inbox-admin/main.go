// ABOUTME: Admin CLI for inbox-gateway channel and conversation management
// ABOUTME: Operates directly on the SQLite store; mints agent JWTs for the API

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/teranga/inbox-gateway/internal/auth"
	"github.com/teranga/inbox-gateway/internal/store"
)

const banner = `
  _       _                             _           _
 (_)_ __ | |__   _____  __       __ _  __| |_ __ ___ (_)_ __
 | | '_ \| '_ \ / _ \ \/ /_____ / _' |/ _' | '_ ' _ \| | '_ \
 | | | | | |_) | (_) >  <_____| (_| | (_| | | | | | | | | | |
 |_|_| |_|_.__/ \___/_/\_\     \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "channels":
		err = cmdChannels(args)
	case "conversations":
		err = cmdConversations(args)
	case "seed":
		err = cmdSeed(args)
	case "token":
		err = cmdToken(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: inbox-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  channels <org-id>             List an organization's channels")
	fmt.Println("  conversations <org-id>        List an organization's conversations")
	fmt.Println("  seed <name>                   Create an organization")
	fmt.Println("  seed channel <org-id> <platform> <identity> <creds-json>")
	fmt.Println("                                Create a channel with a credential bundle")
	fmt.Println("  token <subject>               Mint an agent JWT (valid 30 days)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  INBOX_DB          SQLite database path (default: data/inbox.db)")
	fmt.Println("  INBOX_JWT_SECRET  Secret for token minting")
}

func openStore() (*store.SQLiteStore, error) {
	path := os.Getenv("INBOX_DB")
	if path == "" {
		path = "data/inbox.db"
	}
	return store.NewSQLiteStore(path)
}

func cmdChannels(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: channels <org-id>")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channels, err := st.ListChannels(ctx, args[0])
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		fmt.Println("No channels")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLATFORM\tIDENTITY\tNAME\tACTIVE")
	for _, ch := range channels {
		active := color.GreenString("yes")
		if !ch.Active {
			active = color.RedString("no")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ch.ID, ch.Platform, ch.ProviderIdentity, ch.DisplayName, active)
	}
	return w.Flush()
}

func cmdConversations(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: conversations <org-id>")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conversations, err := st.ListConversations(ctx, args[0], 50)
	if err != nil {
		return err
	}
	if len(conversations) == 0 {
		fmt.Println("No conversations")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tUNREAD\tLAST MESSAGE")
	for _, c := range conversations {
		status := c.Status
		if c.Status == store.ConversationOpen {
			status = color.GreenString(c.Status)
		}
		unread := fmt.Sprintf("%d", c.UnreadCount)
		if c.UnreadCount > 0 {
			unread = color.YellowString(unread)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.ID, status, unread, c.LastMessageAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdSeed(args []string) error {
	if len(args) >= 1 && args[0] == "channel" {
		return seedChannel(args[1:])
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: seed <name> | seed channel <org-id> <platform> <identity> <creds-json>")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	org := &store.Organization{
		ID:        uuid.New().String(),
		Name:      args[0],
		CreatedAt: time.Now(),
	}
	if err := st.CreateOrganization(ctx, org); err != nil {
		return err
	}

	color.Green("Created organization %s", org.ID)
	return nil
}

func seedChannel(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: seed channel <org-id> <platform> <identity> <creds-json>")
	}

	creds := json.RawMessage(args[3])
	if !json.Valid(creds) {
		return fmt.Errorf("credentials must be valid JSON")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch := &store.Channel{
		ID:               uuid.New().String(),
		OrgID:            args[0],
		Platform:         args[1],
		ProviderIdentity: args[2],
		DisplayName:      args[1],
		Credentials:      creds,
		Active:           true,
		CreatedAt:        time.Now(),
	}
	if err := st.CreateChannel(ctx, ch); err != nil {
		return err
	}

	color.Green("Created %s channel %s", ch.Platform, ch.ID)
	return nil
}

func cmdToken(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: token <subject>")
	}

	secret := os.Getenv("INBOX_JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("INBOX_JWT_SECRET is not set")
	}

	verifier := auth.NewJWTVerifier([]byte(secret))
	token, err := verifier.Generate(args[0], 30*24*time.Hour)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
