package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ruaphone/ruaphone/pkg/ruaphone/chat"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/normalize"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/store"
)

// newChatCmd creates the `ruaphone chat` command: an interactive REPL bound
// to one chat.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <name>",
		Short: "Open an interactive chat",
		Long: `Opens (or creates) a chat and starts an interactive session.
An existing chat is matched by name. To create one, pass --persona for a
one-on-one chat or --members for a group.

Examples:
  ruaphone chat Mia --persona Mia
  ruaphone chat studio --members Ann,Ben
  ruaphone chat Mia`,
		Args: cobra.ExactArgs(1),
		RunE: runChat,
	}
	cmd.Flags().String("persona", "", "persona name or id for a new one-on-one chat")
	cmd.Flags().StringSlice("members", nil, "persona names or ids for a new group chat")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := resolveChat(cmd, a, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Chatting in %q (%s). /history shows recent messages, /quit leaves.\n\n", conv.Name, conv.Kind)

	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("starting input: %w", err)
	}
	defer rl.Close()

	ctx := cmd.Context()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/history":
			printHistory(a, conv.ID)
			continue
		}

		if err := sendAndReply(ctx, a, conv, line); err != nil {
			return err
		}
	}
}

func sendAndReply(ctx context.Context, a *app, conv store.Chat, line string) error {
	if _, err := a.engine.SendUserMessage(ctx, conv.ID, line, ""); err != nil {
		return err
	}

	res, err := a.engine.GenerateReply(ctx, conv.ID)
	if errors.Is(err, chat.ErrBusy) {
		fmt.Println("(still replying, give it a moment)")
		return nil
	}
	if err != nil {
		return err
	}

	for _, m := range res.Messages {
		if m.Type == store.TypeVoice && m.AudioData == "" {
			if err := a.disp.EnsureVoiceAudio(ctx, &m); err != nil {
				a.logger.Debug("voice synthesis retry failed", "message", m.ID, "error", err)
			}
		}
		fmt.Println(renderMessage(conv, m))
	}
	if res.Level >= normalize.LevelSplit {
		a.logger.Debug("reply needed deep fallback decoding", "level", res.Level.String())
	}
	return nil
}

// resolveChat finds a chat by name, creating one when creation flags are set.
func resolveChat(cmd *cobra.Command, a *app, name string) (store.Chat, error) {
	chats, err := a.store.ListChats()
	if err != nil {
		return store.Chat{}, err
	}
	for _, c := range chats {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}

	personaRef, _ := cmd.Flags().GetString("persona")
	memberRefs, _ := cmd.Flags().GetStringSlice("members")

	switch {
	case personaRef != "":
		p, err := findPersona(a.store, personaRef)
		if err != nil {
			return store.Chat{}, err
		}
		return a.store.CreateChat(name, p.ID)
	case len(memberRefs) > 0:
		ids := make([]string, 0, len(memberRefs))
		for _, ref := range memberRefs {
			p, err := findPersona(a.store, ref)
			if err != nil {
				return store.Chat{}, err
			}
			ids = append(ids, p.ID)
		}
		return a.store.CreateGroupChat(name, ids)
	default:
		return store.Chat{}, fmt.Errorf("no chat named %q; pass --persona or --members to create it", name)
	}
}

// findPersona matches a persona by id or (case-insensitive) name.
func findPersona(st *store.Store, ref string) (store.Persona, error) {
	if p, err := st.GetPersona(ref); err == nil {
		return p, nil
	}
	personas, err := st.ListPersonas()
	if err != nil {
		return store.Persona{}, err
	}
	for _, p := range personas {
		if strings.EqualFold(p.Name, ref) {
			return p, nil
		}
	}
	return store.Persona{}, fmt.Errorf("no persona %q; create it with: ruaphone persona create", ref)
}

func printHistory(a *app, chatID string) {
	msgs, err := a.store.RecentMessages(chatID, 20)
	if err != nil {
		fmt.Printf("(could not load history: %v)\n", err)
		return
	}
	conv, err := a.store.GetChat(chatID)
	if err != nil {
		return
	}
	for _, m := range msgs {
		if m.Role == store.RoleUser {
			fmt.Printf("you> %s\n", m.Content)
			continue
		}
		fmt.Println(renderMessage(conv, m))
	}
}

// renderMessage formats one assistant message for the terminal, with a
// type-specific shape for non-text messages.
func renderMessage(conv store.Chat, m store.Message) string {
	speaker := conv.Name
	if m.SenderName != "" {
		speaker = m.SenderName
	}

	switch m.Type {
	case store.TypeVoice:
		note := "not cached"
		if m.AudioData != "" {
			note = "cached"
		}
		return fmt.Sprintf("%s> [voice %ds, audio %s] %s", speaker, m.VoiceDuration, note, m.Content)
	case store.TypeImage:
		if m.Content != "" {
			return fmt.Sprintf("%s> [image] %s (%s)", speaker, m.Content, m.ImageURL)
		}
		return fmt.Sprintf("%s> [image] %s", speaker, m.ImageURL)
	case store.TypeTransfer:
		return fmt.Sprintf("%s> [transfer %.2f] %s", speaker, m.TransferAmount, m.TransferNote)
	case store.TypeRecall:
		return fmt.Sprintf("%s> (recalled a message)", speaker)
	case store.TypeHTML:
		return fmt.Sprintf("%s> [card, %d bytes of HTML]", speaker, len(m.Content))
	case store.TypeSticker:
		return fmt.Sprintf("%s> [sticker] %s", speaker, m.StickerURL)
	default:
		return fmt.Sprintf("%s> %s", speaker, m.Content)
	}
}
