package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomsync-go/roomsync"
	"github.com/vovakirdan/roomsync-go/roomsync/rest"
)

const chatHelp = `commands:
  /rooms              list rooms
  /join <name|id>     switch to a room
  /create <name>      create a room and join it
  /who                show who is online
  /retry              retry a failed activation
  /quit               leave
anything else is sent to the active room`

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Join a room from the terminal",
		Long: `Connect to a roomsync server as ROOMSYNC_USER_ID and chat from stdin.

The realtime endpoint is read from ROOMSYNC_URL, the REST API from
ROOMSYNC_API_URL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			chatCfg, err := loadChatConfig()
			if err != nil {
				return err
			}
			syncCfg, err := roomsync.LoadConfig()
			if err != nil {
				return configError{err}
			}
			if syncCfg.URL == "" {
				syncCfg.URL = wsURL(chatCfg.APIURL)
			}
			return chat(cmd.Context(), chatCfg, syncCfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// wsURL derives http://host/api -> ws://host/ws.
func wsURL(api string) string {
	u := strings.TrimSuffix(strings.TrimSuffix(api, "/"), "/api")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func chat(parent context.Context, cfg ChatConfig, syncCfg roomsync.Config, in io.Reader, out io.Writer) error {
	log := logs.GetLoggerFromString(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	self := roomsync.User{ID: cfg.UserID, Username: cfg.Username, Email: cfg.Email}
	api := rest.NewClient(cfg.APIURL)
	api.SetToken(syncCfg.Token)
	if _, err := api.PutAuthor(ctx, roomsync.Author{ID: self.ID, Username: self.Username, Email: self.Email}); err != nil {
		return fmt.Errorf("register profile: %w", err)
	}

	transport := roomsync.NewWSTransport(syncCfg, self.ID, log)
	if err := transport.Connect(ctx); err != nil {
		return err
	}
	defer transport.Close()

	client, err := roomsync.NewClient(syncCfg, self, api, transport, roomsync.WithLogger(log))
	if err != nil {
		return err
	}
	p := &printer{out: out, seen: make(map[string]struct{})}
	client.OnChange(p.render)
	client.OnError(func(err error) { p.printf("! %v", err) })
	client.OnStateChange(func(ev roomsync.StateEvent) {
		if ev.NewState == roomsync.StateActive {
			p.printf("* joined %s", ev.Room)
		}
	})

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()
	defer client.Close()

	rooms, err := client.LoadRooms(ctx)
	if err != nil {
		return err
	}
	if cfg.Room != "" {
		if room, ok := findRoom(rooms, cfg.Room); ok {
			_ = client.SwitchRoom(room)
		} else {
			p.printf("! no room %q", cfg.Room)
		}
	}
	p.printf("%s", chatHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if roomsync.IsExpected(err) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, client, p, line); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, c *roomsync.Client, p *printer, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "":
		c.Compose("")
	case "/quit":
		return true
	case "/help":
		p.printf("%s", chatHelp)
	case "/rooms":
		rooms, err := c.LoadRooms(ctx)
		if err != nil {
			p.printf("! %v", err)
			return false
		}
		for _, r := range rooms {
			p.printf("  %s  %s", r.ID, r.Name)
		}
	case "/join":
		room, ok := findRoom(c.View().Rooms, arg)
		if !ok {
			p.printf("! no room %q, try /rooms", arg)
			return false
		}
		if err := c.SwitchRoom(room); err != nil {
			p.printf("! %v", err)
		}
	case "/create":
		if _, err := c.CreateRoom(ctx, arg, ""); err != nil {
			p.printf("! %v", err)
		}
	case "/who":
		v := c.View()
		names := lo.Map(v.Online, func(e roomsync.PresenceEntry, _ int) string { return e.DisplayName() })
		p.printf("* online (%s): %s", v.Presence, strings.Join(names, ", "))
	case "/retry":
		_ = c.Retry()
	default:
		c.Compose(line)
		if err := c.SendMessage(line); err != nil {
			p.printf("! %v", err)
		}
	}
	return false
}

func findRoom(rooms []roomsync.Room, key string) (roomsync.Room, bool) {
	return lo.Find(rooms, func(r roomsync.Room) bool {
		return r.ID == key || strings.EqualFold(r.Name, key)
	})
}

// printer writes the parts of each View the terminal has not shown yet.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	room   string
	seen   map[string]struct{}
	typing string
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) render(v roomsync.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v.Room.ID != p.room {
		p.room = v.Room.ID
		p.seen = make(map[string]struct{})
		p.typing = ""
	}
	for _, m := range v.Messages {
		if _, ok := p.seen[m.ID]; ok {
			continue
		}
		p.seen[m.ID] = struct{}{}
		if m.ShowHeader {
			fmt.Fprintf(p.out, "%s  %s\n", m.Author.DisplayName(), m.CreatedAt.Local().Format("15:04"))
		}
		fmt.Fprintf(p.out, "  %s\n", m.Content)
	}
	if v.TypingText != p.typing {
		p.typing = v.TypingText
		if v.TypingText != "" {
			fmt.Fprintf(p.out, "… %s\n", v.TypingText)
		}
	}
}
