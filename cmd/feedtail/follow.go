package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"learnhub/internal/adapters/realtime"
	"learnhub/internal/adapters/repo"
	"learnhub/internal/domain"
	"learnhub/internal/infra/cache"
	"learnhub/internal/infra/db"
	"learnhub/internal/usecase/feed"
)

var followUser string

var followCmd = &cobra.Command{
	Use:   "follow <channel-id>",
	Short: "Показывать ленту канала в реальном времени",
	Long: `Показывает ленту канала и обновляет её по push-событиям.
Строка stdin "/join <channel-id>" переключает канал, остальные строки
отправляются в текущий канал от имени --user.`,
	Args: cobra.ExactArgs(1),
	RunE: runFollow,
}

func init() {
	followCmd.Flags().StringVar(&followUser, "user", "", "идентификатор автора для отправки строк из stdin")
}

func runFollow(cmd *cobra.Command, args []string) error {
	ctx, stop, cfg, logger := setup()
	defer stop()

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("подключение к БД: %w", err)
	}
	defer pool.Close()

	backends := realtime.Backends{Pool: pool, RabbitURL: cfg.RabbitURL}
	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("подключение к Redis: %w", err)
		}
		defer client.Close()
		backends.Redis = client
	}
	changes, closeChanges, err := realtime.Open(cfg.Realtime.Driver, cfg.Realtime.Channel, backends, logger)
	if err != nil {
		return err
	}
	defer closeChanges()

	controller := feed.NewController(repo.NewPostgres(pool), changes, logger)
	defer controller.Close()

	session, err := controller.Select(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printSnapshot(out, session)

	lines := make(chan string)
	go scanLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-session.Updates():
			if !ok {
				return nil
			}
			printSnapshot(out, session)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			in := parseInput(line)
			switch {
			case in.join != "":
				if _, err := controller.Select(ctx, in.join); err != nil {
					logger.Warn().Err(err).Str("channel_id", in.join).Msg("feedtail: канал открыт с ошибкой")
				}
				session = controller.Current()
				printSnapshot(out, session)
			case in.text == "":
			case followUser == "":
				logger.Warn().Msg("feedtail: для отправки нужен --user")
			default:
				go send(ctx, controller.Current(), followUser, in.text, logger)
			}
		}
	}
}

type input struct {
	join string
	text string
}

// parseInput разбирает строку stdin: команду смены канала или текст сообщения.
func parseInput(line string) input {
	line = strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(line, "/join"); ok && (rest == "" || rest[0] == ' ') {
		return input{join: strings.TrimSpace(rest)}
	}
	return input{text: line}
}

func scanLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func send(ctx context.Context, session *feed.Session, userID, text string, logger zerolog.Logger) {
	if session == nil {
		return
	}
	if _, err := session.Send(ctx, userID, text, nil, nil); err != nil {
		logger.Warn().Err(err).Msg("feedtail: сообщение не отправлено")
	}
}

func printSnapshot(w io.Writer, session *feed.Session) {
	entries := session.Snapshot()
	fmt.Fprintf(w, "--- %s: %d сообщений, подписка %s, ещё есть: %t\n",
		session.ChannelID(), len(entries), session.State(), session.HasMore())
	for i := len(entries) - 1; i >= 0; i-- {
		fmt.Fprintln(w, formatEntry(entries[i]))
	}
}

func formatEntry(e domain.FeedEntry) string {
	author := e.Message.UserID
	if e.Message.Author != nil && e.Message.Author.FullName != "" {
		author = e.Message.Author.FullName
	}
	mark := " "
	if e.Kind == domain.EntryOptimistic {
		mark = "…"
	}
	return fmt.Sprintf("%s %s %s: %s", mark, e.Message.CreatedAt.Format("15:04:05"), author, e.Message.Content)
}
