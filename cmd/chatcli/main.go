// Command chatcli joins a round's chat from the terminal. It prints recent
// history and live events, and sends each line read from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/teetime-chat/internal/client"
	"github.com/npezzotti/teetime-chat/internal/types"
)

const historyPage = 50

func main() {
	var (
		host    string
		token   string
		roundId string
		roomId  string
	)
	flag.StringVar(&host, "host", "http://localhost:8000", "chat server base URL")
	flag.StringVar(&token, "token", os.Getenv("TEETIME_TOKEN"), "session token")
	flag.StringVar(&roundId, "round", "", "round id, resolved to its chat room")
	flag.StringVar(&roomId, "room", "", "chat room id")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatcli] ", log.LstdFlags)

	if token == "" {
		logger.Fatal("a session token is required (-token or TEETIME_TOKEN)")
	}
	if roomId == "" && roundId == "" {
		logger.Fatal("one of -room or -round is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 10 * time.Second}

	if roomId == "" {
		room, err := client.FetchRoundChat(ctx, httpClient, host, token, roundId)
		if err != nil {
			logger.Fatal(err)
		}
		roomId = room.Id
		fmt.Printf("== %s ==\n", room.RoundTitle)
	}

	timeline := client.NewTimeline(roomId)

	history, err := client.FetchHistory(ctx, httpClient, host, token, roomId, nil, historyPage)
	if err != nil {
		logger.Fatal(err)
	}
	for _, m := range timeline.ReplayHistory(history) {
		printMessage(m)
	}

	wsURL, err := websocketURL(host)
	if err != nil {
		logger.Fatal(err)
	}

	conn, err := client.Dial(ctx, wsURL, token, logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer conn.Close()

	if err := conn.Join(roomId); err != nil {
		logger.Fatal(err)
	}

	go readInput(conn, roomId, logger, stop)

	for {
		select {
		case <-ctx.Done():
			conn.Leave(roomId)
			return
		case ev, ok := <-conn.Events():
			if !ok {
				logger.Println("connection closed")
				return
			}
			printEvent(timeline, ev)
		}
	}
}

func readInput(conn *client.Conn, roomId string, logger *log.Logger, stop func()) {
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := conn.Send(roomId, line); err != nil {
			logger.Println(err)
			return
		}
	}
}

func printEvent(timeline *client.Timeline, ev client.Event) {
	switch data := ev.Data.(type) {
	case types.ChatMessage:
		if timeline.Add(data) {
			printMessage(data)
		}
	case types.MembershipNotice:
		verb := "joined"
		if ev.Name == types.EventRoomLeft {
			verb = "left"
		}
		fmt.Printf("* %s %s\n", data.UserName, verb)
	case types.TypingNotice:
		if ev.Name == types.EventUserTyping {
			fmt.Printf("* %s is typing...\n", data.UserName)
		}
	case types.ReadReceipt:
		timeline.MarkRead(data.MessageId)
	case string:
		fmt.Printf("! %s\n", data)
	}
}

func printMessage(m types.ChatMessage) {
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderName, m.Content)
}

func websocketURL(host string) (string, error) {
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("parse host: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	return u.String(), nil
}
