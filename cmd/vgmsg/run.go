package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/vantagecrm/messenger/pkg/messaging"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Connect and chat with one contact from the terminal",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "contact-id",
			Usage:    "Contact to open a conversation with",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "contact-type",
			Usage: "Contact directory: employee or client",
			Value: string(messaging.PeerClient),
		},
		&cli.StringFlag{
			Name:  "contact-name",
			Usage: "Display name for the contact",
		},
	},
	Action: runAction,
}

func runAction(cliCtx *cli.Context) error {
	log := makeLogger(cliCtx)
	cfg, err := messaging.LoadConfig(cliCtx.String("config"))
	if err != nil {
		return err
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	session, err := messaging.NewSession(cfg, log)
	if err != nil {
		return err
	}
	defer session.Close()

	stopWatch, err := messaging.WatchConfig(cliCtx.String("config"), log, func(next *messaging.Config) {
		if lvl, err := zerolog.ParseLevel(next.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watching unavailable")
	} else {
		defer stopWatch()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		// REST-only mode still works: history fetches and persists go
		// through, and sends reconcile from the REST response alone.
		log.Warn().Err(err).Msg("Push channel unavailable, running REST-only")
	}

	contact := messaging.Contact{
		ID:   cliCtx.String("contact-id"),
		Type: messaging.PeerType(cliCtx.String("contact-type")),
		Name: cliCtx.String("contact-name"),
	}
	if contact.Name == "" {
		contact.Name = contact.ID
	}
	session.Directory.Upsert(contact)
	if err := session.Directory.Select(ctx, contact.Key()); err != nil {
		return err
	}
	conversationID := session.Directory.ActiveConversation()

	for _, m := range session.Store.Messages(conversationID) {
		printMessage(m)
	}
	session.Client.OnMessageReceived(func(m *messaging.Message) {
		if m.ConversationID == conversationID {
			printMessage(m)
		}
	})

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			session.Composer.SetText(line)
			if msg := session.Composer.Send(ctx, conversationID); msg != nil {
				fmt.Printf("[you] %s\n", msg.Text)
			}
		}
	}
}

func printMessage(m *messaging.Message) {
	edited := ""
	if m.Edited {
		edited = " (edited)"
	}
	fmt.Printf("[%s %s/%s] %s%s\n", m.CreatedAt.Format("15:04"), m.SenderType, m.SenderID, m.Text, edited)
}
