package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/lhdbsbz/citychat/internal/chat"
	"github.com/lhdbsbz/citychat/internal/config"
	"github.com/lhdbsbz/citychat/internal/content"
	"github.com/lhdbsbz/citychat/internal/logging"
	"github.com/lhdbsbz/citychat/internal/session"
	"github.com/lhdbsbz/citychat/internal/upload"
	"github.com/spf13/cobra"
)

var (
	chatSession string
	chatUser    string
	chatRelay   string
	chatSpeak   bool
	chatVoice   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the city assistant through the relay",
	Long: `Start an interactive chat through a running relay. The conversation is
kept per session name and resumed on the next run.

Commands: /attach <path>, /new, /help, /quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		slog.SetDefault(logging.New(os.Stderr, "warn", cfg.Log.Format))

		store := session.NewStore(config.SessionDir())
		if err := store.Load(); err != nil {
			return err
		}

		user := chatUser
		if user == "" {
			user = cfg.Client.UserID
		}
		if e, ok := store.Get(chatSession); ok && user == "" {
			user = e.UserID
		}
		if user == "" {
			user = "cli-" + uuid.NewString()[:8]
		}
		entry := store.GetOrCreate(chatSession, user)

		relay := chatRelay
		if relay == "" {
			relay = cfg.Client.RelayURL
		}
		var cookies []*http.Cookie
		if cfg.Client.SessionToken != "" {
			cookies = append(cookies, &http.Cookie{Name: cfg.Gateway.CookieName, Value: cfg.Client.SessionToken})
		}
		client := chat.NewClient(relay, entry.UserID, cookies...)
		client.Uploads.MaxBytes = cfg.Upload.MaxBytes
		client.SetConversationID(entry.ConversationID)

		tr := session.NewTranscript(store.TranscriptPath(chatSession))
		prior, err := tr.Load()
		if err != nil {
			slog.Warn("transcript unreadable", "path", tr.Path(), "error", err)
		}

		r := &repl{cmd: cmd, cfg: cfg, store: store, name: chatSession, client: client, transcript: tr}
		fmt.Fprintf(os.Stderr, "=== citychat [%s] ===\n", chatSession)
		fmt.Fprintf(os.Stderr, "Relay: %s  User: %s\n", relay, entry.UserID)
		if len(prior) > 0 {
			fmt.Fprintf(os.Stderr, "Resumed %d messages, last active %s\n", len(prior), humanize.Time(entry.UpdatedAt))
		}
		fmt.Fprintln(os.Stderr, "Type '/help' for commands, '/quit' or 'Ctrl+D' to quit")
		return r.run()
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "default", "session name to create or resume")
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user id sent to the relay (default from config or session)")
	chatCmd.Flags().StringVar(&chatRelay, "relay", "", "relay base URL (default client.relayURL)")
	chatCmd.Flags().BoolVar(&chatSpeak, "speak", false, "fetch speech for each answer and save it as mp3")
	chatCmd.Flags().StringVar(&chatVoice, "voice", "", "voice id for --speak")
}

type repl struct {
	cmd        *cobra.Command
	cfg        *config.Config
	store      *session.Store
	name       string
	client     *chat.Client
	transcript *session.Transcript
	pending    []upload.File
	open       []*os.File
}

func (r *repl) run() error {
	defer r.closePending()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("input error: %w", err)
			}
			fmt.Fprintln(os.Stderr)
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if !r.command(input) {
				return nil
			}
			continue
		}
		r.send(input)
	}
}

// command handles a slash command. It returns false to end the session.
func (r *repl) command(input string) bool {
	name, arg, _ := strings.Cut(input, " ")
	switch strings.ToLower(name) {
	case "/help", "/h":
		fmt.Fprintln(os.Stderr, "  /attach <path>  attach a file to the next message")
		fmt.Fprintln(os.Stderr, "  /new            start a new conversation")
		fmt.Fprintln(os.Stderr, "  /quit, /exit    leave")
	case "/attach":
		r.attach(strings.TrimSpace(arg))
	case "/new":
		r.client.NewChat()
		r.closePending()
		if err := r.store.Reset(r.name); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		fmt.Fprintln(os.Stderr, "Started a new conversation.")
	case "/quit", "/exit", "/q":
		return false
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s (type '/help' for available commands)\n", name)
	}
	return true
}

func (r *repl) attach(path string) {
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: /attach <path>")
		return
	}
	f, fh, err := upload.OpenFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if err := upload.CheckSize(f.Name, f.Size, r.client.Uploads.MaxBytes); err != nil {
		fh.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	r.pending = append(r.pending, f)
	r.open = append(r.open, fh)
	fmt.Fprintf(os.Stderr, "Attached %s (%s, %s)\n", f.Name, f.MIME, humanize.IBytes(uint64(f.Size)))
}

func (r *repl) closePending() {
	for _, fh := range r.open {
		fh.Close()
	}
	r.open = nil
	r.pending = nil
}

func (r *repl) send(text string) {
	ctx, stop := signal.NotifyContext(r.cmd.Context(), os.Interrupt)
	defer stop()
	files := r.pending
	defer r.closePending()

	before := r.client.Transcript().Len()
	fmt.Print("\nAssistant> ")
	res, err := r.client.Send(ctx, text, files, printEvent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
	}
	r.persist(before)
	if res == nil {
		return
	}
	fmt.Println()

	if chatSpeak {
		r.speak(ctx, res)
	}
}

// printEvent renders pipeline events on the terminal.
func printEvent(e chat.Event) {
	switch e.Type {
	case chat.EventDelta:
		fmt.Print(e.Text)
	case chat.EventAnnotation:
		fmt.Printf("\n[API Error: %s]", e.Text)
	case chat.EventWarning:
		fmt.Fprintf(os.Stderr, "Warning: %s\n", e.Text)
	case chat.EventError:
		if e.MessageID != "" {
			fmt.Fprintf(os.Stderr, "\n(stream error: %s)", e.Error)
		}
	case chat.EventDone:
		fmt.Println()
		for _, p := range e.Parts {
			if p.Kind == content.PartEmbed {
				em := content.ParseEmbed(p.Text)
				fmt.Printf("[embedded content: %s]\n", content.SafeSrc(em.Src))
			}
		}
	}
}

// persist appends the messages added since before to the session transcript.
func (r *repl) persist(before int) {
	msgs := r.client.Transcript().Messages()
	if before > len(msgs) {
		before = 0
	}
	if err := r.transcript.Append(msgs[before:]...); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save transcript: %v\n", err)
	}
	r.store.RecordExchange(r.name, r.client.ConversationID())
	if err := r.store.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save session: %v\n", err)
	}
}

func (r *repl) speak(ctx context.Context, res *chat.Result) {
	audio, err := r.client.Speak(ctx, res.Message.Content, chatVoice)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Speech unavailable: %v\n", err)
		return
	}
	if audio == nil {
		return
	}
	dir := filepath.Join(config.DataDir(), "audio")
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Speech unavailable: %v\n", err)
		return
	}
	path := filepath.Join(dir, res.MessageID+".mp3")
	if err := os.WriteFile(path, audio, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Speech unavailable: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "Speech saved to %s (%s)\n", path, humanize.IBytes(uint64(len(audio))))
}
