package commands

import (
	"io"
	"strings"

	"veilchat/internal/domain"
	"veilchat/internal/services/chat"
)

const timeFormat = "15:04:05"

func renderEvents(out io.Writer, events <-chan chat.Event) error {
	for e := range events {
		switch e := e.(type) {
		case chat.MessageEvent:
			renderMessage(out, e.Message)
		case chat.PresenceEvent:
			renderPresence(out, e.Presence)
		case chat.ClosedEvent:
			if e.Err != nil {
				printf(out, "[x] %v\n", e.Err)
				return e.Err
			}
			printf(out, "[x] Disconnected\n")
			return nil
		}
	}
	return nil
}

func renderMessage(out io.Writer, m domain.Message) {
	printf(out, "[%s] %s: %s\n", m.CreatedAt.Format(timeFormat), m.Sender, m.Body)
}

func renderPresence(out io.Writer, p domain.Presence) {
	switch p.Event {
	case domain.PresenceJoin:
		printf(out, "[+] %s joined\n", p.Identity)
	case domain.PresenceLeave:
		printf(out, "[-] %s left\n", p.Identity)
	case domain.PresenceList, domain.PresenceWelcome:
		printf(out, "[i] Online (%d): %s\n", len(p.Online), joinIDs(p.Online))
	}
}

func renderResult(out io.Writer, r chat.Result) {
	switch r.Command.(type) {
	case chat.Help:
		for _, u := range r.Help {
			printf(out, "  %-12s %s\n", u.Syntax, u.Summary)
		}
	case chat.WhoAmI:
		printf(out, "You are %s\n", r.Identity)
	case chat.Users:
		printf(out, "[i] Online (%d): %s\n", len(r.Online), joinIDs(r.Online))
	case chat.Log:
		if r.Logging {
			printf(out, "[i] Logging enabled\n")
		} else {
			printf(out, "[i] Logging disabled\n")
		}
	case chat.History:
		renderHistory(out, r.History, r.Corrupt)
	case chat.Clear:
		printf(out, "\033[H\033[2J")
	}
}

func renderHistory(out io.Writer, msgs []domain.Message, corrupt []error) {
	printf(out, "--- Message history (%d) ---\n", len(msgs))
	for _, m := range msgs {
		renderMessage(out, m)
	}
	for _, err := range corrupt {
		printf(out, "[!] %v\n", err)
	}
	printf(out, "%s\n", strings.Repeat("-", 30))
}

func joinIDs(ids []domain.Identity) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ", ")
}
